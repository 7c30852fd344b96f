package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/playperu/walktour/internal/location"
	"github.com/playperu/walktour/internal/session"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeSessionError maps session and location errors to responses.
func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrClosed), errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, session.ErrUnknownCommand):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrNoPusher), errors.Is(err, location.ErrNotRunning):
		writeError(w, http.StatusConflict, "location updates are not running")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
