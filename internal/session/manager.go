package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/playperu/walktour/internal/audio"
	"github.com/playperu/walktour/internal/kv"
	"github.com/playperu/walktour/internal/location"
	"github.com/playperu/walktour/internal/progress"
	"github.com/playperu/walktour/internal/tour"
)

var ErrNotFound = errors.New("session not found")

// Tours is the tour data source sessions are created from.
type Tours interface {
	Get(id string) (tour.Tour, error)
	Resolver(id string) (tour.DirResolver, error)
}

type ManagerConfig struct {
	Tours    Tours
	Store    kv.Store
	Broker   *Broker
	Logger   *slog.Logger
	Defaults Settings
	Location location.Options
	// FallbackDuration is the narration length assumed for stops without
	// an audioDuration.
	FallbackDuration time.Duration
}

// CreateRequest describes a new session.
type CreateRequest struct {
	TourID string `json:"tourId"`
	// Source names a registered location source; empty means push.
	Source     string          `json:"source,omitempty"`
	Params     location.Params `json:"params,omitempty"`
	Permission location.Grant  `json:"permission,omitempty"`
}

// Manager owns live sessions by ID.
type Manager struct {
	cfg ManagerConfig

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Broker == nil {
		cfg.Broker = NewBroker()
	}
	return &Manager{
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) Broker() *Broker { return m.cfg.Broker }

// Create builds a session for the requested tour, starts it and registers
// it. An unknown tour yields an error wrapping tour.ErrNotFound.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Session, error) {
	t, err := m.cfg.Tours.Get(req.TourID)
	if err != nil {
		return nil, fmt.Errorf("loading tour %q: %w", req.TourID, err)
	}
	resolver, err := m.cfg.Tours.Resolver(req.TourID)
	if err != nil {
		return nil, fmt.Errorf("resolving assets for %q: %w", req.TourID, err)
	}

	settings, err := LoadSettings(ctx, m.cfg.Store, m.cfg.Defaults)
	if err != nil {
		m.cfg.Logger.Warn("using default settings", "error", err)
	}
	t = t.WithDefaultRadius(settings.TriggerRadiusMeters)

	name := req.Source
	if name == "" {
		name = location.SourcePush
	}
	src, err := location.New(name, req.Params)
	if err != nil {
		return nil, fmt.Errorf("creating %s source: %w", name, err)
	}
	if p, ok := src.(*location.PushSource); ok && req.Permission != "" {
		p.SetPermission(req.Permission)
	}

	s := New(Options{
		ID:       uuid.NewString(),
		Tour:     t,
		Source:   src,
		Player:   clockPlayerFor(t, resolver, m.cfg.FallbackDuration),
		Resolve:  resolver.Resolve,
		Store:    m.cfg.Store,
		Settings: settings,
		Location: m.cfg.Location,
		Broker:   m.cfg.Broker,
		Logger:   m.cfg.Logger,
	})
	if err := s.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting session: %w", err)
	}

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	return s, nil
}

// clockPlayerFor mirrors device playback using each stop's declared
// narration length.
func clockPlayerFor(t tour.Tour, resolver tour.AssetResolver, fallback time.Duration) *audio.ClockPlayer {
	p := audio.NewClockPlayer(fallback)
	for _, st := range t.Stops {
		if st.EstimatedDuration <= 0 {
			continue
		}
		uri, err := resolver.Resolve(st.AudioRef)
		if err != nil {
			continue
		}
		p.SetDuration(uri, time.Duration(st.EstimatedDuration)*time.Second)
	}
	return p
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// IDs returns the live session IDs in sorted order.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.Close()
	return nil
}

// ResetProgress deletes a tour's saved progress. Live sessions on the tour
// are restarted first, so none of them writes the old record back.
func (m *Manager) ResetProgress(ctx context.Context, tourID string) error {
	m.mu.RLock()
	var live []*Session
	for _, s := range m.sessions {
		if s.Tour().ID == tourID {
			live = append(live, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range live {
		if err := s.Restart(ctx); err != nil && !errors.Is(err, ErrClosed) {
			return fmt.Errorf("restarting %s: %w", s.ID(), err)
		}
	}
	if err := m.cfg.Store.Delete(ctx, progress.Key(tourID)); err != nil {
		return fmt.Errorf("deleting progress for %q: %w", tourID, err)
	}
	return nil
}

// Shutdown closes every session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

func (m *Manager) Settings(ctx context.Context) (Settings, error) {
	return LoadSettings(ctx, m.cfg.Store, m.cfg.Defaults)
}

// UpdateSettings persists set and applies it to every live session.
func (m *Manager) UpdateSettings(ctx context.Context, set Settings) error {
	if err := SaveSettings(ctx, m.cfg.Store, set); err != nil {
		return err
	}

	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		if err := s.ApplySettings(ctx, set); err != nil && !errors.Is(err, ErrClosed) {
			return fmt.Errorf("applying settings to %s: %w", s.ID(), err)
		}
	}
	return nil
}
