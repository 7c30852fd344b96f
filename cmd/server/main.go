package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/playperu/walktour/internal/config"
	"github.com/playperu/walktour/internal/database"
	"github.com/playperu/walktour/internal/handler/health"
	"github.com/playperu/walktour/internal/kv"
	"github.com/playperu/walktour/internal/location"
	"github.com/playperu/walktour/internal/migrations"
	"github.com/playperu/walktour/internal/server"
	"github.com/playperu/walktour/internal/session"
	"github.com/playperu/walktour/internal/tour"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	// --- SQLite ---
	db, err := database.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("connecting to sqlite: %w", err)
	}
	defer db.Close()

	if err := migrations.Run(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("connected to sqlite", "path", cfg.DBPath)
	store := kv.NewSQLStore(db)

	// --- Tours ---
	catalog := tour.NewCatalog(cfg.ToursDir, cfg.TriggerRadius, logger)
	if err := catalog.Load(); err != nil {
		return fmt.Errorf("loading tours: %w", err)
	}
	logger.Info("loaded tours", "dir", cfg.ToursDir, "count", len(catalog.List()))

	// --- Sessions ---
	location.RegisterDefaults()
	sessions := session.NewManager(session.ManagerConfig{
		Tours:            catalog,
		Store:            store,
		Logger:           logger,
		Defaults:         cfg.Settings(),
		Location:         cfg.Location(),
		FallbackDuration: cfg.AudioFallbackDuration,
	})
	defer sessions.Shutdown()

	if cfg.AdminPasswordHash == "" {
		logger.Warn("ADMIN_PASSWORD_HASH not set, admin routes are disabled")
	}

	// --- HTTP Server ---
	app := server.App{
		Catalog:  catalog,
		Sessions: sessions,
		Store:    store,
		Admin: server.AdminCredentials{
			User:         cfg.AdminUser,
			PasswordHash: cfg.AdminPasswordHash,
		},
	}
	srv := server.New(cfg.HTTPAddr, logger, app, func(r chi.Router) {
		r.Mount("/healthz", health.NewHandler(logger, map[string]health.Checker{
			"sqlite": health.CheckerFunc(store.Ping),
			"tours":  toursChecker{catalog},
		}).Routes())
	})

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "addr", cfg.HTTPAddr)
		return srv.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		return srv.Shutdown(context.Background())
	})

	if cfg.WatchTours {
		g.Go(func() error {
			logger.Info("watching tours", "dir", cfg.ToursDir)
			return catalog.Watch(gctx)
		})
	}

	return g.Wait()
}

// toursChecker reports unhealthy while the catalog is empty.
type toursChecker struct{ catalog *tour.Catalog }

func (t toursChecker) Check(context.Context) error {
	if len(t.catalog.List()) == 0 {
		return errors.New("no tours loaded")
	}
	return nil
}
