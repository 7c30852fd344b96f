// Command tourwalk replays a recorded GPX walk through a tour and logs every
// session event, for checking trigger radii and narration timing offline.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/playperu/walktour/internal/config"
	"github.com/playperu/walktour/internal/database"
	"github.com/playperu/walktour/internal/kv"
	"github.com/playperu/walktour/internal/location"
	"github.com/playperu/walktour/internal/migrations"
	"github.com/playperu/walktour/internal/session"
	"github.com/playperu/walktour/internal/tour"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	toursDir string
	tourID   string
	gpx      string
	speed    float64
	dbPath   string
}

func parseFlags(args []string, cfg *config.Config) (options, error) {
	var o options
	fs := flag.NewFlagSet("tourwalk", flag.ContinueOnError)
	fs.StringVar(&o.toursDir, "tours", cfg.ToursDir, "tours directory")
	fs.StringVar(&o.tourID, "tour", "", "tour ID (folder name under -tours)")
	fs.StringVar(&o.gpx, "gpx", "", "GPX file to replay")
	fs.Float64Var(&o.speed, "speed", 1, "replay speed multiplier; 0 replays without delay")
	fs.StringVar(&o.dbPath, "db", "", "database file for progress; empty keeps it in memory")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.tourID == "" || o.gpx == "" {
		return o, errors.New("-tour and -gpx are required")
	}
	return o, nil
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	opts, err := parseFlags(args, cfg)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	store, closeStore, err := openStore(ctx, opts.dbPath)
	if err != nil {
		return err
	}
	defer closeStore()

	catalog := tour.NewCatalog(opts.toursDir, cfg.TriggerRadius, logger)
	if err := catalog.Load(); err != nil {
		return fmt.Errorf("loading tours: %w", err)
	}

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

	s, err := sessions.Create(ctx, session.CreateRequest{
		TourID: opts.tourID,
		Source: location.SourceReplay,
		Params: location.Params{
			"gpx":   opts.gpx,
			"speed": strconv.FormatFloat(opts.speed, 'f', -1, 64),
		},
	})
	if err != nil {
		return fmt.Errorf("starting walk: %w", err)
	}

	events := sessions.Broker().Subscribe(s.ID())
	defer sessions.Broker().Unsubscribe(s.ID(), events)

	// A fast replay may have finished before the subscription. Manual mode
	// is only entered once the remaining fixes were processed.
	if st, err := s.State(ctx); err == nil && st.Manual && replayEnded(st.Location) {
		return summarize(ctx, logger, s)
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("interrupted")
			return summarize(context.Background(), logger, s)
		case data := <-events:
			var ev struct {
				Type string          `json:"type"`
				Data json.RawMessage `json:"data"`
			}
			if err := json.Unmarshal(data, &ev); err != nil {
				continue
			}

			level := slog.LevelInfo
			if ev.Type == session.EventState {
				level = slog.LevelDebug
			}
			logger.Log(ctx, level, "session event", "type", ev.Type, "data", ev.Data)

			if ev.Type != session.EventLocation {
				continue
			}
			var loc session.LocationState
			if err := json.Unmarshal(ev.Data, &loc); err == nil && replayEnded(loc) {
				return summarize(ctx, logger, s)
			}
		}
	}
}

// replayEnded reports whether the GPX track has run out.
func replayEnded(loc session.LocationState) bool {
	return loc.State == location.StateUnavailable
}

func summarize(ctx context.Context, logger *slog.Logger, s *session.Session) error {
	st, err := s.State(ctx)
	if err != nil {
		return fmt.Errorf("reading final state: %w", err)
	}
	logger.Info("walk finished",
		"tour_id", st.TourID,
		"visited", st.Geofence.VisitedStopIDs,
		"completed", st.Progress.CompletedStopIDs,
		"current_stop_index", st.Progress.CurrentStopIndex,
		"tour_complete", st.Progress.IsComplete,
	)
	return nil
}

func openStore(ctx context.Context, path string) (kv.Store, func(), error) {
	if path == "" {
		return kv.NewMemoryStore(), func() {}, nil
	}
	db, err := database.Open(ctx, path)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to sqlite: %w", err)
	}
	if err := migrations.Run(db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	return kv.NewSQLStore(db), func() { db.Close() }, nil
}
