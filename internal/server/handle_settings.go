package server

import (
	"errors"
	"net/http"

	"github.com/playperu/walktour/internal/session"
)

func handleGetSettings(sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		set, err := sessions.Settings(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, set)
	}
}

func handlePutSettings(sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var set session.Settings
		if err := readJSON(r, &set); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		err := sessions.UpdateSettings(r.Context(), set)
		if errors.Is(err, session.ErrInvalidSettings) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, set)
	}
}
