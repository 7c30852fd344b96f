package server

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/playperu/walktour/internal/session"
)

type ctxKey int

const ctxKeySession ctxKey = iota

func sessionMiddleware(sessions *session.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, err := sessions.Get(chi.URLParam(r, "sessionID"))
			if err != nil {
				writeError(w, http.StatusNotFound, "session not found")
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeySession, s)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// adminAuthMiddleware checks HTTP Basic credentials against a bcrypt hash.
func adminAuthMiddleware(creds AdminCredentials) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || creds.PasswordHash == "" ||
				subtle.ConstantTimeCompare([]byte(user), []byte(creds.User)) != 1 ||
				bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(pass)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="walktour admin"`)
				writeError(w, http.StatusUnauthorized, "not authenticated")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func sessionFrom(r *http.Request) *session.Session {
	return r.Context().Value(ctxKeySession).(*session.Session)
}
