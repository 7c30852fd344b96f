// Package session runs a tour: it fuses location samples, the geofence
// engine, the progress machine and the audio controller into one event loop.
//
// Each Session owns a single goroutine. Samples, commands and audio events
// all arrive over channels and are handled one at a time, so the engine,
// machine and controller are never touched concurrently.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/playperu/walktour/internal/audio"
	"github.com/playperu/walktour/internal/geo"
	"github.com/playperu/walktour/internal/geofence"
	"github.com/playperu/walktour/internal/location"
	"github.com/playperu/walktour/internal/progress"
	"github.com/playperu/walktour/internal/tour"
)

var (
	ErrClosed         = errors.New("session closed")
	ErrNotStarted     = errors.New("session not started")
	ErrUnknownCommand = errors.New("unknown command")
	ErrNoPusher       = errors.New("session source does not accept pushed samples")
)

type Options struct {
	ID       string
	Tour     tour.Tour
	Source   location.Source
	Player   audio.Player
	Resolve  audio.ResolveFunc
	Store    progress.Store
	Settings Settings
	Location location.Options
	Broker   *Broker
	Logger   *slog.Logger
}

type command struct {
	fn   func(context.Context)
	done chan struct{}
}

type Session struct {
	id     string
	tour   tour.Tour
	source location.Source
	broker *Broker
	logger *slog.Logger
	locOpt location.Options

	stream   *location.Stream
	engine   *geofence.Engine
	progress *progress.Machine
	audio    *audio.Controller

	// Owned by the loop goroutine once started.
	settings   Settings
	manual     bool
	lastSample *location.Sample

	cmds    chan command
	done    chan struct{}
	closed  chan struct{}
	loopCtx context.Context
	cancel  context.CancelFunc

	// life serializes Start and Close; mu guards the flags.
	life     sync.Mutex
	mu       sync.Mutex
	started  bool
	isClosed bool
}

func New(opts Options) *Session {
	logger := opts.Logger.With("session_id", opts.ID, "tour_id", opts.Tour.ID)
	broker := opts.Broker
	if broker == nil {
		broker = NewBroker()
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	return &Session{
		loopCtx:  loopCtx,
		cancel:   cancel,
		id:       opts.ID,
		tour:     opts.Tour,
		source:   opts.Source,
		broker:   broker,
		logger:   logger,
		locOpt:   opts.Location,
		stream:   location.NewStream(opts.Source, logger),
		engine:   geofence.New(opts.Tour.Stops),
		progress: progress.New(opts.Tour, opts.Store, logger),
		audio:    audio.NewController(opts.Player, opts.Resolve, logger),
		settings: opts.Settings,
		cmds:     make(chan command),
		done:     make(chan struct{}),
		closed:   make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Tour() tour.Tour { return s.tour }

// Closed is closed when Close has finished, after the final closed event
// was published.
func (s *Session) Closed() <-chan struct{} { return s.closed }

// Start restores saved progress, marks restored stops visited, loads the
// current stop's narration and only then starts location updates, so the
// first sample is always evaluated against restored state.
func (s *Session) Start(ctx context.Context) error {
	s.life.Lock()
	defer s.life.Unlock()

	s.mu.Lock()
	switch {
	case s.isClosed:
		s.mu.Unlock()
		return ErrClosed
	case s.started:
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	if err := s.progress.Restore(ctx); err != nil {
		s.logger.Warn("restoring progress", "error", err)
	}
	for _, st := range s.tour.Stops {
		if s.progress.IsCompleted(st.ID) {
			s.engine.MarkStopVisited(st.ID)
		}
	}

	s.audio.SetPlaybackSpeed(s.settings.PlaybackSpeed)
	var resume []audio.LoadOption
	if pos, ok := s.progress.AudioPosition(); ok {
		resume = append(resume, audio.WithStartPosition(time.Duration(pos)*time.Millisecond))
	}
	s.loadCurrentStop(resume...)

	s.startLocation(ctx)
	s.publishState()

	go s.run(s.loopCtx)
	s.logger.Info("session started", "stop_index", s.progress.CurrentIndex())
	return nil
}

// Close stops location updates before anything else, then shuts the loop
// down. No events are published once Close returns.
func (s *Session) Close() {
	s.life.Lock()
	defer s.life.Unlock()

	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return
	}
	s.isClosed = true
	started := s.started
	s.mu.Unlock()

	s.stream.Stop()
	s.cancel()
	if started {
		<-s.done
	} else {
		close(s.done)
	}

	if st := s.audio.State(); st.IsLoaded {
		s.progress.SetAudioPosition(st.PositionMs)
		s.progress.Save(context.Background())
	}
	s.audio.Close()

	s.publish(EventClosed, nil)
	close(s.closed)
	s.logger.Info("session closed")
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.cmds:
			cmd.fn(ctx)
			close(cmd.done)
		case smp := <-s.stream.Samples():
			s.handleSample(ctx, smp)
		case st := <-s.stream.StatusChanges():
			s.handleStatus(ctx, st)
		case ev := <-s.audio.Events():
			s.handleAudio(ctx, ev)
		}
	}
}

// do runs fn on the loop goroutine and waits for it to finish.
func (s *Session) do(ctx context.Context, fn func(context.Context)) error {
	s.mu.Lock()
	started, closed := s.started, s.isClosed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if !started {
		return ErrNotStarted
	}

	cmd := command{fn: fn, done: make(chan struct{})}
	select {
	case s.cmds <- cmd:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-cmd.done
	return nil
}

func (s *Session) handleSample(ctx context.Context, smp location.Sample) {
	if s.manual {
		return
	}
	s.lastSample = &smp

	for _, ev := range s.engine.Process(smp, s.progress.CurrentIndex()) {
		s.publish(EventGeofence, ev)
	}

	if st, ok := s.engine.TriggeredStop(); ok {
		s.logger.Info("stop triggered", "stop_id", st.ID, "stop", st.Name)
		s.onTrigger(ctx, st)
	}
	s.publishState()
}

// onTrigger jumps to the reached stop and starts its narration.
func (s *Session) onTrigger(ctx context.Context, st tour.Stop) {
	idx := s.tour.IndexOf(st.ID)
	changed := s.progress.GoToStop(ctx, idx)
	if changed {
		s.engine.Retarget(idx)
		s.publish(EventStopChanged, st)
	}
	s.engine.MarkStopVisited(st.ID)
	s.engine.ClearTriggeredStop()

	// Reaching the stop already being listened to keeps its narration where
	// it is.
	if cur := s.audio.State(); !changed && cur.Status == audio.StatusReady && cur.Ref == st.AudioRef {
		if s.settings.AutoPlay && !cur.IsPlaying {
			s.audio.Play()
		}
		return
	}

	var opts []audio.LoadOption
	if s.settings.AutoPlay {
		opts = append(opts, audio.WithAutoplay())
	}
	s.loadCurrentStop(opts...)
}

// handleStatus reacts to the stream's current state; queued transitions may
// already be stale.
func (s *Session) handleStatus(ctx context.Context, _ location.Status) {
	state, err := s.stream.State()
	if state == location.StateDenied || state == location.StateUnavailable {
		// Fixes delivered before the source ended still count.
		s.drainSamples(ctx)
		if !s.manual {
			s.logger.Warn("location lost, switching to manual mode", "state", state, "error", err)
		}
		s.setManual(true)
	}
	s.publish(EventLocation, s.locationState())
	s.publishState()
}

func (s *Session) drainSamples(ctx context.Context) {
	for {
		select {
		case smp := <-s.stream.Samples():
			s.handleSample(ctx, smp)
		default:
			return
		}
	}
}

func (s *Session) handleAudio(ctx context.Context, ev audio.Event) {
	if ev.Generation != s.audio.Generation() {
		return
	}
	switch ev.Type {
	case audio.EventCompleted:
		s.logger.Info("narration finished", "ref", ev.Ref)
		s.completeCurrent(ctx)
		if s.settings.AutoAdvance && s.progress.GoToNextStop(ctx) {
			s.afterNavigate()
		}
	case audio.EventFailed:
		s.logger.Warn("narration unavailable", "ref", ev.Ref, "error", ev.Err)
	}
	s.publish(EventAudio, s.audio.State())
	s.publishState()
}

func (s *Session) completeCurrent(ctx context.Context) {
	if id, ok := s.progress.CurrentStopID(); ok {
		s.engine.MarkStopVisited(id)
	}
	s.progress.MarkCurrentComplete(ctx)
	if s.progress.TakeCompletion() {
		s.logger.Info("tour complete")
		s.publish(EventTourComplete, s.progress.Snapshot())
	}
}

// afterNavigate refreshes everything that depends on the current index.
func (s *Session) afterNavigate() {
	idx := s.progress.CurrentIndex()
	s.engine.Retarget(idx)
	s.publish(EventStopChanged, s.tour.Stops[idx])
	s.loadCurrentStop()
}

func (s *Session) loadCurrentStop(opts ...audio.LoadOption) {
	id, ok := s.progress.CurrentStopID()
	if !ok {
		return
	}
	s.audio.Load(s.tour.Stops[s.tour.IndexOf(id)].AudioRef, opts...)
}

func (s *Session) startLocation(ctx context.Context) {
	if s.stream.RequestPermission(ctx) != location.GrantGranted {
		s.setManual(true)
		return
	}
	if err := s.stream.Start(ctx, s.locOpt); err != nil {
		s.logger.Warn("starting location", "error", err)
		s.setManual(true)
		return
	}
	s.setManual(false)
}

func (s *Session) setManual(on bool) {
	s.manual = on
	s.engine.SetEnabled(!on)
}

// NavAction selects a manual navigation step.
type NavAction string

const (
	NavNext     NavAction = "next"
	NavPrevious NavAction = "previous"
	NavGoTo     NavAction = "goto"
)

// Navigate moves through the tour by hand. Out-of-range moves are ignored;
// the result reports whether the current stop changed.
func (s *Session) Navigate(ctx context.Context, action NavAction, index int) (bool, error) {
	var (
		changed bool
		cmdErr  error
	)
	err := s.do(ctx, func(ctx context.Context) {
		switch action {
		case NavNext:
			changed = s.progress.GoToNextStop(ctx)
		case NavPrevious:
			changed = s.progress.GoToPreviousStop(ctx)
		case NavGoTo:
			changed = s.progress.GoToStop(ctx, index)
		default:
			cmdErr = fmt.Errorf("%w: navigate %q", ErrUnknownCommand, action)
			return
		}
		if changed {
			s.afterNavigate()
			s.publishState()
		}
	})
	if err != nil {
		return false, err
	}
	return changed, cmdErr
}

// CompleteCurrent marks the current stop done without advancing.
func (s *Session) CompleteCurrent(ctx context.Context) error {
	return s.do(ctx, func(ctx context.Context) {
		s.completeCurrent(ctx)
		s.publishState()
	})
}

// Restart forgets all progress and visited stops and loads the first stop's
// narration, paused.
func (s *Session) Restart(ctx context.Context) error {
	return s.do(ctx, func(ctx context.Context) {
		s.progress.Reset(ctx)
		s.engine.ResetVisited()
		if len(s.tour.Stops) == 0 {
			s.audio.Unload()
		} else {
			s.afterNavigate()
		}
		s.logger.Info("tour restarted")
		s.publishState()
	})
}

// SetManual turns GPS automation off (true) or back on (false).
func (s *Session) SetManual(ctx context.Context, on bool) error {
	return s.do(ctx, func(ctx context.Context) {
		s.setManual(on)
		s.publishState()
	})
}

// SetPermission records a permission change reported by the device. A grant
// restarts location updates and leaves manual mode; a denial stops them.
func (s *Session) SetPermission(ctx context.Context, g location.Grant) error {
	return s.do(ctx, func(ctx context.Context) {
		if p, ok := s.source.(*location.PushSource); ok {
			p.SetPermission(g)
		}
		if g != location.GrantGranted {
			s.stream.Stop()
			s.stream.RequestPermission(ctx)
			s.setManual(true)
		} else {
			s.startLocation(ctx)
		}
		s.publish(EventLocation, s.locationState())
		s.publishState()
	})
}

// Push forwards a device fix to the session's push source.
func (s *Session) Push(ctx context.Context, smp location.Sample) error {
	p, ok := s.source.(location.Pusher)
	if !ok {
		return ErrNoPusher
	}
	s.mu.Lock()
	closed := s.isClosed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return p.Push(ctx, smp)
}

type AudioAction string

const (
	AudioPlay  AudioAction = "play"
	AudioPause AudioAction = "pause"
	AudioSeek  AudioAction = "seek"
	AudioSkip  AudioAction = "skip"
	AudioSpeed AudioAction = "speed"
	AudioStop  AudioAction = "stop"
)

type AudioCommand struct {
	Action     AudioAction `json:"action"`
	PositionMs int64       `json:"positionMs,omitempty"`
	Seconds    float64     `json:"seconds,omitempty"`
	Speed      float64     `json:"speed,omitempty"`
}

func (s *Session) Audio(ctx context.Context, cmd AudioCommand) (audio.State, error) {
	var (
		st     audio.State
		cmdErr error
	)
	err := s.do(ctx, func(ctx context.Context) {
		switch cmd.Action {
		case AudioPlay:
			s.audio.Play()
		case AudioPause:
			s.audio.Pause()
			s.progress.SetAudioPosition(s.audio.State().PositionMs)
			s.progress.Save(ctx)
		case AudioSeek:
			s.audio.SeekTo(cmd.PositionMs)
		case AudioSkip:
			s.audio.Skip(cmd.Seconds)
		case AudioSpeed:
			s.audio.SetPlaybackSpeed(cmd.Speed)
			s.settings.PlaybackSpeed = s.audio.State().PlaybackSpeed
		case AudioStop:
			s.audio.Unload()
		default:
			cmdErr = fmt.Errorf("%w: audio %q", ErrUnknownCommand, cmd.Action)
			return
		}
		st = s.audio.State()
		s.publish(EventAudio, st)
	})
	if err != nil {
		return audio.State{}, err
	}
	return st, cmdErr
}

// ApplySettings updates preferences on a running session. The trigger
// radius only affects sessions created afterwards.
func (s *Session) ApplySettings(ctx context.Context, set Settings) error {
	return s.do(ctx, func(ctx context.Context) {
		s.settings = set
		s.audio.SetPlaybackSpeed(set.PlaybackSpeed)
		s.publishState()
	})
}

// LocationState describes the sensor side of a session.
type LocationState struct {
	State      location.State   `json:"state"`
	Error      string           `json:"error,omitempty"`
	LastSample *location.Sample `json:"lastSample,omitempty"`
}

// State is a point-in-time view of a session.
type State struct {
	SessionID            string            `json:"sessionId"`
	TourID               string            `json:"tourId"`
	Manual               bool              `json:"manual"`
	Location             LocationState     `json:"location"`
	Geofence             geofence.Snapshot `json:"geofence"`
	Progress             progress.Snapshot `json:"progress"`
	CurrentStop          *tour.Stop        `json:"currentStop,omitempty"`
	DistanceToTargetText string            `json:"distanceToTargetText,omitempty"`
	Audio                audio.State       `json:"audio"`
	Settings             Settings          `json:"settings"`
}

// State returns a snapshot built on the loop goroutine.
func (s *Session) State(ctx context.Context) (State, error) {
	var st State
	err := s.do(ctx, func(context.Context) {
		st = s.snapshot()
	})
	return st, err
}

func (s *Session) snapshot() State {
	st := State{
		SessionID: s.id,
		TourID:    s.tour.ID,
		Manual:    s.manual,
		Location:  s.locationState(),
		Geofence:  s.engine.Snapshot(),
		Progress:  s.progress.Snapshot(),
		Audio:     s.audio.State(),
		Settings:  s.settings,
	}
	if id, ok := s.progress.CurrentStopID(); ok {
		stop := s.tour.Stops[s.tour.IndexOf(id)]
		st.CurrentStop = &stop
	}
	if d := st.Geofence.DistanceToTargetStop; d != nil {
		st.DistanceToTargetText = geo.FormatDistance(*d, s.settings.UseMetric)
	}
	return st
}

func (s *Session) locationState() LocationState {
	state, err := s.stream.State()
	ls := LocationState{State: state, LastSample: s.lastSample}
	if err != nil {
		ls.Error = err.Error()
	}
	return ls
}

func (s *Session) publishState() {
	s.publish(EventState, s.snapshot())
}

func (s *Session) publish(typ string, data any) {
	s.broker.Publish(Event{
		Type:      typ,
		SessionID: s.id,
		At:        time.Now().UTC(),
		Data:      data,
	})
}
