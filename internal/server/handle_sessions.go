package server

import (
	"errors"
	"net/http"

	"github.com/playperu/walktour/internal/location"
	"github.com/playperu/walktour/internal/session"
	"github.com/playperu/walktour/internal/tour"
)

// CreateSessionRequest is the request body for POST /api/sessions.
type CreateSessionRequest struct {
	TourID     string         `json:"tourId"`
	Permission location.Grant `json:"permission,omitempty"`
}

// NavigateRequest is the request body for POST /api/sessions/{sessionID}/navigate.
type NavigateRequest struct {
	Action session.NavAction `json:"action"`
	Index  int               `json:"index,omitempty"`
}

// NavigateResponse reports whether the current stop changed.
type NavigateResponse struct {
	Changed bool          `json:"changed"`
	State   session.State `json:"state"`
}

// ManualRequest is the request body for POST /api/sessions/{sessionID}/manual.
type ManualRequest struct {
	Enabled bool `json:"enabled"`
}

// PermissionRequest is the request body for POST /api/sessions/{sessionID}/permission.
type PermissionRequest struct {
	Permission location.Grant `json:"permission"`
}

func handleCreateSession(sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateSessionRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.TourID == "" {
			writeError(w, http.StatusBadRequest, "tourId is required")
			return
		}
		switch req.Permission {
		case "", location.GrantGranted, location.GrantDenied:
		default:
			writeError(w, http.StatusBadRequest, "permission must be granted or denied")
			return
		}

		// Devices always push their fixes; replay is for offline tooling.
		s, err := sessions.Create(r.Context(), session.CreateRequest{
			TourID:     req.TourID,
			Source:     location.SourcePush,
			Permission: req.Permission,
		})
		if errors.Is(err, tour.ErrNotFound) {
			writeError(w, http.StatusNotFound, "tour not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		st, err := s.State(r.Context())
		if err != nil {
			writeSessionError(w, err)
			return
		}
		w.Header().Set("Location", "/api/sessions/"+s.ID())
		writeJSON(w, http.StatusCreated, st)
	}
}

func handleGetSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeState(w, r, sessionFrom(r))
	}
}

func handleDeleteSession(sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := sessions.Close(sessionFrom(r).ID()); err != nil {
			writeSessionError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleNavigate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req NavigateRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		s := sessionFrom(r)
		changed, err := s.Navigate(r.Context(), req.Action, req.Index)
		if err != nil {
			writeSessionError(w, err)
			return
		}
		st, err := s.State(r.Context())
		if err != nil {
			writeSessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, NavigateResponse{Changed: changed, State: st})
	}
}

func handleComplete() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := sessionFrom(r)
		if err := s.CompleteCurrent(r.Context()); err != nil {
			writeSessionError(w, err)
			return
		}
		writeState(w, r, s)
	}
}

func handleRestart() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := sessionFrom(r)
		if err := s.Restart(r.Context()); err != nil {
			writeSessionError(w, err)
			return
		}
		writeState(w, r, s)
	}
}

func handleManual() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ManualRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		s := sessionFrom(r)
		if err := s.SetManual(r.Context(), req.Enabled); err != nil {
			writeSessionError(w, err)
			return
		}
		writeState(w, r, s)
	}
}

func handlePermission() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PermissionRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Permission != location.GrantGranted && req.Permission != location.GrantDenied {
			writeError(w, http.StatusBadRequest, "permission must be granted or denied")
			return
		}
		s := sessionFrom(r)
		if err := s.SetPermission(r.Context(), req.Permission); err != nil {
			writeSessionError(w, err)
			return
		}
		writeState(w, r, s)
	}
}

func handleAudio() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req session.AudioCommand
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		st, err := sessionFrom(r).Audio(r.Context(), req)
		if err != nil {
			writeSessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func writeState(w http.ResponseWriter, r *http.Request, s *session.Session) {
	st, err := s.State(r.Context())
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
