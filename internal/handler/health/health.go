package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
)

// Checker verifies that a dependency is usable.
type Checker interface {
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) Check(ctx context.Context) error { return f(ctx) }

type Handler struct {
	checks map[string]Checker
	logger *slog.Logger
}

func NewHandler(logger *slog.Logger, checks map[string]Checker) *Handler {
	return &Handler{checks: checks, logger: logger}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.check)
	return r
}

// Result is the outcome of one named check.
type Result struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latencyMs"`
}

// Response is the body of GET /healthz.
type Response struct {
	Status string            `json:"status"`
	Checks map[string]Result `json:"checks"`
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := Response{Status: "ok", Checks: make(map[string]Result, len(names))}
	status := http.StatusOK

	for _, name := range names {
		start := time.Now()
		err := h.checks[name].Check(ctx)
		res := Result{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
		if err != nil {
			h.logger.Error("health check failed", "name", name, "error", err)
			res.Status = "error"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
		resp.Checks[name] = res
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
