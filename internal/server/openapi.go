package server

import (
	"encoding/json"
	"net/http"

	openapi "github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"

	"github.com/playperu/walktour/internal/audio"
	"github.com/playperu/walktour/internal/handler/health"
	"github.com/playperu/walktour/internal/location"
	"github.com/playperu/walktour/internal/session"
	"github.com/playperu/walktour/internal/tour"
)

// ErrorResponse is returned for all error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Request shapes that add path parameters for the reflector.
type (
	tourPath struct {
		TourID string `path:"tourID"`
	}
	assetPath struct {
		TourID string `path:"tourID"`
		Path   string `path:"path"`
	}
	sessionPath struct {
		SessionID string `path:"sessionID"`
	}
	locationDoc struct {
		sessionPath
		location.Sample
	}
	navigateDoc struct {
		sessionPath
		NavigateRequest
	}
	manualDoc struct {
		sessionPath
		ManualRequest
	}
	permissionDoc struct {
		sessionPath
		PermissionRequest
	}
	audioDoc struct {
		sessionPath
		session.AudioCommand
	}
)

type operation struct {
	method, path  string
	summary, desc string
	contentType   string
	req           any
	resp          map[int]any
}

func newOpenAPISpec() *openapi3.Spec {
	r := openapi3.NewReflector()
	r.Spec.Info.Title = "Walktour API"
	r.Spec.Info.Version = "0.1.0"
	r.Spec.Info.WithDescription("Geofence-driven audio walking tours.")

	sessionErrors := map[int]any{
		http.StatusNotFound:   ErrorResponse{},
		http.StatusBadRequest: ErrorResponse{},
	}
	with := func(base map[int]any, status int, v any) map[int]any {
		m := map[int]any{status: v}
		for k, v := range base {
			m[k] = v
		}
		return m
	}

	ops := []operation{
		{
			method:  http.MethodGet,
			path:    "/healthz",
			summary: "Health check",
			desc:    "Returns the health status of the database and tour catalog.",
			resp:    map[int]any{http.StatusOK: health.Response{}, http.StatusServiceUnavailable: health.Response{}},
		},
		{
			method:  http.MethodGet,
			path:    "/api/tours",
			summary: "List tours",
			resp:    map[int]any{http.StatusOK: []tour.Summary{}},
		},
		{
			method:  http.MethodGet,
			path:    "/api/tours/{tourID}",
			summary: "Get tour",
			desc:    "Returns the tour with its stops. Supports If-None-Match.",
			req:     tourPath{},
			resp:    map[int]any{http.StatusOK: TourResponse{}, http.StatusNotModified: nil, http.StatusNotFound: ErrorResponse{}},
		},
		{
			method:  http.MethodGet,
			path:    "/api/tours/{tourID}/route",
			summary: "Tour route",
			desc:    "Stop sequence as points and as an encoded polyline.",
			req:     tourPath{},
			resp:    map[int]any{http.StatusOK: RouteResponse{}, http.StatusNotFound: ErrorResponse{}},
		},
		{
			method:      http.MethodGet,
			path:        "/api/tours/{tourID}/kml",
			summary:     "Tour as KML",
			contentType: "application/vnd.google-earth.kml+xml",
			req:         tourPath{},
			resp:        map[int]any{http.StatusOK: nil, http.StatusNotFound: ErrorResponse{}},
		},
		{
			method:      http.MethodGet,
			path:        "/api/tours/{tourID}/assets/{path}",
			summary:     "Tour asset",
			desc:        "Serves narration and other files referenced by the tour.",
			contentType: "application/octet-stream",
			req:         assetPath{},
			resp:        map[int]any{http.StatusOK: nil, http.StatusNotFound: ErrorResponse{}},
		},
		{
			method:  http.MethodGet,
			path:    "/api/settings",
			summary: "Get settings",
			resp:    map[int]any{http.StatusOK: session.Settings{}},
		},
		{
			method:  http.MethodPut,
			path:    "/api/settings",
			summary: "Update settings",
			desc:    "Persists settings and applies them to live sessions.",
			req:     session.Settings{},
			resp:    map[int]any{http.StatusOK: session.Settings{}, http.StatusUnprocessableEntity: ErrorResponse{}},
		},
		{
			method:  http.MethodPost,
			path:    "/api/sessions",
			summary: "Start a tour session",
			desc:    "Restores saved progress and starts listening for location updates.",
			req:     CreateSessionRequest{},
			resp:    with(sessionErrors, http.StatusCreated, session.State{}),
		},
		{
			method:  http.MethodGet,
			path:    "/api/sessions/{sessionID}",
			summary: "Session state",
			req:     sessionPath{},
			resp:    with(sessionErrors, http.StatusOK, session.State{}),
		},
		{
			method:  http.MethodDelete,
			path:    "/api/sessions/{sessionID}",
			summary: "End session",
			req:     sessionPath{},
			resp:    with(sessionErrors, http.StatusNoContent, nil),
		},
		{
			method:  http.MethodPost,
			path:    "/api/sessions/{sessionID}/location",
			summary: "Report a position fix",
			req:     locationDoc{},
			resp:    with(sessionErrors, http.StatusAccepted, LocationAck{}),
		},
		{
			method:      http.MethodGet,
			path:        "/api/sessions/{sessionID}/location/ws",
			summary:     "Position fix stream",
			desc:        "WebSocket. Send one sample per text message and receive one ack for each.",
			contentType: "text/plain",
			req:         sessionPath{},
			resp:        map[int]any{http.StatusSwitchingProtocols: nil},
		},
		{
			method:  http.MethodPost,
			path:    "/api/sessions/{sessionID}/navigate",
			summary: "Navigate manually",
			desc:    "Action is next, previous or goto.",
			req:     navigateDoc{},
			resp:    with(sessionErrors, http.StatusOK, NavigateResponse{}),
		},
		{
			method:  http.MethodPost,
			path:    "/api/sessions/{sessionID}/complete",
			summary: "Mark current stop complete",
			req:     sessionPath{},
			resp:    with(sessionErrors, http.StatusOK, session.State{}),
		},
		{
			method:  http.MethodPost,
			path:    "/api/sessions/{sessionID}/restart",
			summary: "Restart tour",
			desc:    "Clears progress and visited stops.",
			req:     sessionPath{},
			resp:    with(sessionErrors, http.StatusOK, session.State{}),
		},
		{
			method:  http.MethodPost,
			path:    "/api/sessions/{sessionID}/manual",
			summary: "Toggle manual mode",
			req:     manualDoc{},
			resp:    with(sessionErrors, http.StatusOK, session.State{}),
		},
		{
			method:  http.MethodPost,
			path:    "/api/sessions/{sessionID}/permission",
			summary: "Report location permission",
			req:     permissionDoc{},
			resp:    with(sessionErrors, http.StatusOK, session.State{}),
		},
		{
			method:  http.MethodPost,
			path:    "/api/sessions/{sessionID}/audio",
			summary: "Control narration",
			desc:    "Action is play, pause, seek, skip, speed or stop.",
			req:     audioDoc{},
			resp:    with(sessionErrors, http.StatusOK, audio.State{}),
		},
		{
			method:      http.MethodGet,
			path:        "/api/sessions/{sessionID}/events",
			summary:     "SSE event stream",
			desc:        "Server-Sent Events for session state, geofence and audio changes.",
			contentType: "text/event-stream",
			req:         sessionPath{},
			resp:        map[int]any{http.StatusOK: nil},
		},
		{
			method:  http.MethodPost,
			path:    "/api/admin/reload",
			summary: "Reload tours",
			desc:    "Rescans the tours directory. Requires Basic auth.",
			resp:    map[int]any{http.StatusOK: ReloadResponse{}, http.StatusUnauthorized: ErrorResponse{}},
		},
		{
			method:  http.MethodGet,
			path:    "/api/admin/progress",
			summary: "Saved progress",
			desc:    "Lists stored progress records. Requires Basic auth.",
			resp:    map[int]any{http.StatusOK: []ProgressEntry{}, http.StatusUnauthorized: ErrorResponse{}},
		},
		{
			method:  http.MethodDelete,
			path:    "/api/admin/progress/{tourID}",
			summary: "Reset saved progress",
			desc:    "Restarts live sessions on the tour, then deletes its saved progress. Requires Basic auth.",
			req:     tourPath{},
			resp:    map[int]any{http.StatusNoContent: nil, http.StatusUnauthorized: ErrorResponse{}},
		},
	}

	for _, op := range ops {
		oc, err := r.NewOperationContext(op.method, op.path)
		if err != nil {
			continue
		}
		oc.SetSummary(op.summary)
		if op.desc != "" {
			oc.SetDescription(op.desc)
		}
		if op.req != nil {
			oc.AddReqStructure(op.req)
		}
		for status, v := range op.resp {
			opts := []openapi.ContentOption{openapi.WithHTTPStatus(status)}
			if v == nil && op.contentType != "" {
				opts = append(opts, openapi.WithContentType(op.contentType))
			}
			oc.AddRespStructure(v, opts...)
		}
		_ = r.AddOperation(oc)
	}

	return r.Spec
}

func handleOpenAPI() http.HandlerFunc {
	spec := newOpenAPISpec()
	data, _ := json.MarshalIndent(spec, "", "  ")

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}
