package server

import (
	"bytes"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/playperu/walktour/internal/geo"
	"github.com/playperu/walktour/internal/tour"
)

// TourResponse is the response for GET /api/tours/{tourID}.
type TourResponse struct {
	tour.Tour
	Route string `json:"route"`
}

// RouteResponse is the response for GET /api/tours/{tourID}/route.
type RouteResponse struct {
	StartPoint geo.Point   `json:"startPoint"`
	Points     []geo.Point `json:"points"`
	Polyline   string      `json:"polyline"`
}

func handleListTours(cat *tour.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, cat.List())
	}
}

func handleGetTour(cat *tour.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "tourID")
		t, err := cat.Get(id)
		if err != nil {
			writeError(w, http.StatusNotFound, "tour not found")
			return
		}

		if fp, err := cat.Fingerprint(id); err == nil {
			etag := `"` + fp + `"`
			w.Header().Set("ETag", etag)
			if r.Header.Get("If-None-Match") == etag {
				w.WriteHeader(http.StatusNotModified)
				return
			}
		}

		writeJSON(w, http.StatusOK, TourResponse{Tour: t, Route: geo.EncodeRoute(t.Points())})
	}
}

func handleTourRoute(cat *tour.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := cat.Get(chi.URLParam(r, "tourID"))
		if err != nil {
			writeError(w, http.StatusNotFound, "tour not found")
			return
		}
		pts := t.Points()
		writeJSON(w, http.StatusOK, RouteResponse{
			StartPoint: t.StartPoint,
			Points:     pts,
			Polyline:   geo.EncodeRoute(pts),
		})
	}
}

func handleTourKML(cat *tour.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := cat.Get(chi.URLParam(r, "tourID"))
		if err != nil {
			writeError(w, http.StatusNotFound, "tour not found")
			return
		}
		var buf bytes.Buffer
		if err := tour.WriteKML(&buf, t); err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		w.Header().Set("Content-Type", "application/vnd.google-earth.kml+xml")
		w.Header().Set("Content-Disposition", `attachment; filename="`+t.ID+`.kml"`)
		w.WriteHeader(http.StatusOK)
		_, _ = buf.WriteTo(w)
	}
}

// handleTourAsset serves a file referenced by the tour, such as narration.
// Remote references redirect.
func handleTourAsset(cat *tour.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := cat.Resolver(chi.URLParam(r, "tourID"))
		if err != nil {
			writeError(w, http.StatusNotFound, "tour not found")
			return
		}

		path, err := res.Resolve(chi.URLParam(r, "*"))
		if errors.Is(err, tour.ErrAssetNotFound) {
			writeError(w, http.StatusNotFound, "asset not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
			http.Redirect(w, r, path, http.StatusFound)
			return
		}
		http.ServeFile(w, r, path)
	}
}
