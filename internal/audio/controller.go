package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type Status string

const (
	StatusEmpty   Status = "empty"
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
)

var ErrClosed = errors.New("audio controller closed")

type State struct {
	Status        Status  `json:"status"`
	Ref           string  `json:"ref,omitempty"`
	IsLoaded      bool    `json:"isLoaded"`
	IsPlaying     bool    `json:"isPlaying"`
	PositionMs    int64   `json:"positionMs"`
	DurationMs    int64   `json:"durationMs"`
	PlaybackSpeed float64 `json:"playbackSpeed"`
	Error         string  `json:"error,omitempty"`
}

type EventType string

const (
	EventLoaded    EventType = "audio_loaded"
	EventFailed    EventType = "audio_failed"
	EventCompleted EventType = "audio_completed"
)

// Event reports the outcome of asynchronous work. Generation identifies the
// Load call it belongs to.
type Event struct {
	Type       EventType
	Ref        string
	Generation uint64
	Err        error
}

// ResolveFunc maps a stop's audio reference to something the player opens.
type ResolveFunc func(ref string) (string, error)

type loadConfig struct {
	autoplay bool
	startAt  time.Duration
}

type LoadOption func(*loadConfig)

// WithAutoplay starts playback as soon as the load completes.
func WithAutoplay() LoadOption {
	return func(c *loadConfig) { c.autoplay = true }
}

// WithStartPosition seeks to pos once loaded.
func WithStartPosition(pos time.Duration) LoadOption {
	return func(c *loadConfig) { c.startAt = pos }
}

// Controller owns at most one Track. Only the most recent Load may change
// its state; results of superseded loads are closed and dropped.
type Controller struct {
	player  Player
	resolve ResolveFunc
	logger  *slog.Logger
	events  chan Event
	closed  chan struct{}

	mu         sync.Mutex
	gen        uint64
	track      Track
	state      State
	speed      float64
	completed  bool
	cancelLoad context.CancelFunc
	isClosed   bool
}

func NewController(player Player, resolve ResolveFunc, logger *slog.Logger) *Controller {
	if resolve == nil {
		resolve = func(ref string) (string, error) { return ref, nil }
	}
	c := &Controller{
		player:  player,
		resolve: resolve,
		logger:  logger,
		events:  make(chan Event, 16),
		closed:  make(chan struct{}),
		speed:   1,
	}
	c.state = c.emptyState()
	return c
}

// Events delivers load results and completions. Consumers must keep reading
// until Close.
func (c *Controller) Events() <-chan Event { return c.events }

// Generation identifies the current Load; events from older generations are
// stale.
func (c *Controller) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Load tears down the current track and opens ref in the background at the
// remembered playback speed. Failures land in State as StatusError; calling
// Load again recovers.
func (c *Controller) Load(ref string, opts ...LoadOption) {
	var cfg loadConfig
	for _, o := range opts {
		o(&cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.isClosed {
		c.mu.Unlock()
		cancel()
		return
	}
	old := c.teardownLocked()
	c.gen++
	gen := c.gen
	c.cancelLoad = cancel
	c.state = c.emptyState()
	c.state.Status = StatusLoading
	c.state.Ref = ref
	speed := c.speed
	c.mu.Unlock()

	c.closeTrack(old)
	go c.load(ctx, gen, ref, speed, cfg)
}

func (c *Controller) load(ctx context.Context, gen uint64, ref string, speed float64, cfg loadConfig) {
	uri, err := c.resolve(ref)
	var tr Track
	if err == nil {
		tr, err = c.player.Load(ctx, uri, func() { c.onEnd(gen) })
	}
	if err == nil {
		err = tr.SetRate(speed)
		if err == nil && cfg.startAt > 0 {
			err = tr.Seek(min(cfg.startAt, tr.Duration()))
		}
		if err != nil {
			c.closeTrack(tr)
			tr = nil
		}
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		c.closeTrack(tr)
		c.logger.Debug("dropping stale audio load", "ref", ref)
		return
	}
	c.cancelLoad = nil

	// The speed may have changed while the track was opening.
	if err == nil && c.speed != speed {
		if err = tr.SetRate(c.speed); err != nil {
			defer c.closeTrack(tr)
		}
	}

	if err != nil {
		c.state.Status = StatusError
		c.state.Error = err.Error()
		c.mu.Unlock()
		c.logger.Warn("audio load failed", "ref", ref, "error", err)
		c.emit(Event{Type: EventFailed, Ref: ref, Generation: gen, Err: err})
		return
	}

	c.track = tr
	c.state.Status = StatusReady
	c.state.IsLoaded = true
	if cfg.autoplay {
		if err := tr.Play(); err != nil {
			c.logger.Warn("audio autoplay failed", "ref", ref, "error", err)
		} else {
			c.state.IsPlaying = true
		}
	}
	c.state.DurationMs = tr.Duration().Milliseconds()
	c.state.PositionMs = tr.Position().Milliseconds()
	c.mu.Unlock()

	c.emit(Event{Type: EventLoaded, Ref: ref, Generation: gen})
}

func (c *Controller) onEnd(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.track == nil || c.completed {
		c.mu.Unlock()
		return
	}
	c.completed = true
	c.state.IsPlaying = false
	c.state.PositionMs = c.state.DurationMs
	ref := c.state.Ref
	c.mu.Unlock()

	c.emit(Event{Type: EventCompleted, Ref: ref, Generation: gen})
}

// Play is a no-op unless a track is loaded. Playing a finished track starts
// it over.
func (c *Controller) Play() {
	c.withTrack(func(tr Track) error {
		if c.completed {
			if err := tr.Seek(0); err != nil {
				return err
			}
			c.completed = false
		}
		if err := tr.Play(); err != nil {
			return err
		}
		c.state.IsPlaying = true
		return nil
	})
}

func (c *Controller) Pause() {
	c.withTrack(func(tr Track) error {
		if err := tr.Pause(); err != nil {
			return err
		}
		c.state.IsPlaying = false
		c.state.PositionMs = tr.Position().Milliseconds()
		return nil
	})
}

// SeekTo moves to ms, clamped to [0, duration].
func (c *Controller) SeekTo(ms int64) {
	c.withTrack(func(tr Track) error {
		return c.seekLocked(tr, ms)
	})
}

// Skip moves by deltaSeconds relative to the current position.
func (c *Controller) Skip(deltaSeconds float64) {
	c.withTrack(func(tr Track) error {
		target := tr.Position().Milliseconds() + int64(deltaSeconds*1000)
		return c.seekLocked(tr, target)
	})
}

func (c *Controller) seekLocked(tr Track, ms int64) error {
	ms = max(0, min(ms, c.state.DurationMs))
	if err := tr.Seek(time.Duration(ms) * time.Millisecond); err != nil {
		return err
	}
	c.state.PositionMs = ms
	if ms < c.state.DurationMs {
		c.completed = false
	}
	return nil
}

// SetPlaybackSpeed applies to the current track and to every later Load.
// Non-positive speeds are ignored.
func (c *Controller) SetPlaybackSpeed(speed float64) {
	if speed <= 0 {
		return
	}
	c.mu.Lock()
	c.speed = speed
	c.state.PlaybackSpeed = speed
	c.mu.Unlock()

	c.withTrack(func(tr Track) error {
		return tr.SetRate(speed)
	})
}

// Unload releases the current track and returns to the empty state. Safe to
// call at any time.
func (c *Controller) Unload() {
	c.mu.Lock()
	old := c.teardownLocked()
	c.gen++
	c.state = c.emptyState()
	c.mu.Unlock()

	c.closeTrack(old)
}

// Close unloads and stops event delivery.
func (c *Controller) Close() {
	c.Unload()
	c.mu.Lock()
	if !c.isClosed {
		c.isClosed = true
		close(c.closed)
	}
	c.mu.Unlock()
}

// State returns a snapshot with a fresh playback position.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.state
	if c.track != nil && !c.completed {
		st.PositionMs = c.track.Position().Milliseconds()
	}
	return st
}

// withTrack runs fn under the lock when a track is ready; track errors move
// the controller to StatusError.
func (c *Controller) withTrack(fn func(Track) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.track == nil || c.state.Status != StatusReady {
		return
	}
	if err := fn(c.track); err != nil {
		c.logger.Warn("audio operation failed", "ref", c.state.Ref, "error", err)
		c.state.Status = StatusError
		c.state.IsPlaying = false
		c.state.Error = fmt.Sprintf("playback: %v", err)
	}
}

func (c *Controller) teardownLocked() Track {
	if c.cancelLoad != nil {
		c.cancelLoad()
		c.cancelLoad = nil
	}
	old := c.track
	c.track = nil
	c.completed = false
	return old
}

func (c *Controller) closeTrack(tr Track) {
	if tr == nil {
		return
	}
	if err := tr.Close(); err != nil {
		c.logger.Warn("closing audio track", "error", err)
	}
}

func (c *Controller) emptyState() State {
	return State{Status: StatusEmpty, PlaybackSpeed: c.speed}
}

func (c *Controller) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.closed:
	}
}
