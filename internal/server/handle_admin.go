package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/playperu/walktour/internal/kv"
	"github.com/playperu/walktour/internal/progress"
	"github.com/playperu/walktour/internal/session"
	"github.com/playperu/walktour/internal/tour"
)

// ReloadResponse is the response for POST /api/admin/reload.
type ReloadResponse struct {
	Tours []tour.Summary `json:"tours"`
}

// ProgressEntry is one saved tour progress record.
type ProgressEntry struct {
	TourID string          `json:"tourId"`
	Record progress.Record `json:"record"`
}

func handleAdminReload(cat *tour.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cat.Load(); err != nil {
			writeError(w, http.StatusInternalServerError, "reloading tours failed")
			return
		}
		writeJSON(w, http.StatusOK, ReloadResponse{Tours: cat.List()})
	}
}

func handleAdminProgress(store kv.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		prefix := progress.Key("")
		keys, err := store.Keys(r.Context(), prefix)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		entries := make([]ProgressEntry, 0, len(keys))
		for _, k := range keys {
			var rec progress.Record
			if err := store.Get(r.Context(), k, &rec); err != nil {
				continue
			}
			entries = append(entries, ProgressEntry{TourID: strings.TrimPrefix(k, prefix), Record: rec})
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

// handleAdminResetProgress restarts live sessions on the tour and deletes
// its saved progress.
func handleAdminResetProgress(sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := sessions.ResetProgress(r.Context(), chi.URLParam(r, "tourID")); err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
