package server

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/swaggest/swgui/v5emb"
)

func addRoutes(r chi.Router, logger *slog.Logger, app App) {
	r.Get("/openapi.json", handleOpenAPI())
	r.Mount("/docs", v5emb.New("Walktour API", "/openapi.json", "/docs"))

	r.Route("/api/tours", func(r chi.Router) {
		r.Get("/", handleListTours(app.Catalog))
		r.Route("/{tourID}", func(r chi.Router) {
			r.Get("/", handleGetTour(app.Catalog))
			r.Get("/route", handleTourRoute(app.Catalog))
			r.Get("/kml", handleTourKML(app.Catalog))
			r.Get("/assets/*", handleTourAsset(app.Catalog))
		})
	})

	r.Get("/api/settings", handleGetSettings(app.Sessions))
	r.Put("/api/settings", handlePutSettings(app.Sessions))

	r.Post("/api/sessions", handleCreateSession(app.Sessions))

	// {sessionID} is resolved by sessionMiddleware.
	r.Route("/api/sessions/{sessionID}", func(r chi.Router) {
		r.Use(sessionMiddleware(app.Sessions))
		r.Get("/", handleGetSession())
		r.Delete("/", handleDeleteSession(app.Sessions))
		r.Post("/location", handlePostLocation())
		r.Get("/location/ws", handleLocationWS(logger))
		r.Post("/navigate", handleNavigate())
		r.Post("/complete", handleComplete())
		r.Post("/restart", handleRestart())
		r.Post("/manual", handleManual())
		r.Post("/permission", handlePermission())
		r.Post("/audio", handleAudio())
		r.Get("/events", handleEvents(app.Sessions.Broker()))
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(adminAuthMiddleware(app.Admin))
		r.Post("/reload", handleAdminReload(app.Catalog))
		r.Get("/progress", handleAdminProgress(app.Store))
		r.Delete("/progress/{tourID}", handleAdminResetProgress(app.Sessions))
	})
}
