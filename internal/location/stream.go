package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/playperu/walktour/internal/geo"
)

type State string

const (
	StateIdle        State = "idle"
	StateRunning     State = "running"
	StateUnavailable State = "unavailable"
	StateDenied      State = "denied"
)

// Status is published whenever the stream changes state.
type Status struct {
	State State
	Err   error
}

// Stream delivers filtered samples from a Source on a single channel. Start
// is idempotent and Stop guarantees nothing is delivered once it returns.
type Stream struct {
	src    Source
	logger *slog.Logger
	now    func() time.Time

	out    chan Sample
	status chan Status

	// lifecycle serializes Start and Stop; mu guards the fields below.
	lifecycle sync.Mutex

	mu     sync.Mutex
	state  State
	err    error
	cancel context.CancelFunc
	done   chan struct{}
	opts   Options
	last   *Sample
	lastAt time.Time
}

func NewStream(src Source, logger *slog.Logger) *Stream {
	return &Stream{
		src:    src,
		logger: logger,
		now:    time.Now,
		out:    make(chan Sample),
		status: make(chan Status, 4),
		state:  StateIdle,
	}
}

// Samples is the delivery channel. It is never closed.
func (s *Stream) Samples() <-chan Sample { return s.out }

// StatusChanges reports state transitions. Slow readers miss updates; State
// always has the current value.
func (s *Stream) StatusChanges() <-chan Status { return s.status }

func (s *Stream) State() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.err
}

// RequestPermission asks the source for access. A failed request counts as
// denied; the stream then refuses to start until permission is granted.
func (s *Stream) RequestPermission(ctx context.Context) Grant {
	grant, err := s.src.RequestPermission(ctx)
	if err != nil || grant != GrantGranted {
		if err == nil {
			err = ErrPermissionDenied
		}
		s.logger.Warn("location permission not granted", "error", err)
		s.setState(StateDenied, err)
		return GrantDenied
	}

	s.mu.Lock()
	if s.state == StateDenied {
		s.state, s.err = StateIdle, nil
	}
	s.mu.Unlock()
	return GrantGranted
}

func (s *Stream) Start(ctx context.Context, opts Options) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.state == StateRunning {
		s.mu.Unlock()
		return nil
	}
	if s.state == StateDenied {
		s.mu.Unlock()
		return ErrPermissionDenied
	}
	s.mu.Unlock()

	in, err := s.src.Open(ctx)
	if err != nil {
		err = fmt.Errorf("opening location source: %w", err)
		s.setState(StateUnavailable, err)
		return err
	}

	pctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	if s.cancel != nil {
		// A previous run ended on its own; release its context.
		s.cancel()
	}
	s.opts = opts
	s.last = nil
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()
	s.setState(StateRunning, nil)

	go s.pump(pctx, in, done)
	return nil
}

// Stop is safe to call at any time, including before Start.
func (s *Stream) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	if err := s.src.Close(); err != nil {
		s.logger.Warn("closing location source", "error", err)
	}

	s.mu.Lock()
	if s.state == StateRunning {
		s.state, s.err = StateIdle, nil
	}
	s.mu.Unlock()
}

func (s *Stream) pump(ctx context.Context, in <-chan Sample, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case smp, ok := <-in:
			if !ok {
				s.setState(StateUnavailable, ErrSourceClosed)
				return
			}
			if !s.accept(smp) {
				continue
			}
			select {
			case s.out <- smp:
			case <-ctx.Done():
				return
			}
		}
	}
}

// accept applies the cadence filter: a fix passes when MinInterval has
// elapsed since the last delivered fix or the device has moved at least
// MinDistanceMeters from it.
func (s *Stream) accept(smp Sample) bool {
	if !smp.Valid() {
		s.logger.Debug("dropping malformed sample", "lat", smp.Latitude, "lng", smp.Longitude)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.DesiredAccuracy > 0 && smp.Accuracy != nil && *smp.Accuracy > s.opts.DesiredAccuracy {
		return false
	}

	now := s.now()
	if s.last != nil {
		elapsed := now.Sub(s.lastAt) >= s.opts.MinInterval
		moved := s.opts.MinDistanceMeters > 0 &&
			geo.DistanceMeters(s.last.Point(), smp.Point()) >= s.opts.MinDistanceMeters
		if !elapsed && !moved {
			return false
		}
	}

	s.last = &smp
	s.lastAt = now
	return true
}

func (s *Stream) setState(st State, err error) {
	s.mu.Lock()
	s.state, s.err = st, err
	s.mu.Unlock()

	if err != nil && !errors.Is(err, ErrPermissionDenied) {
		s.logger.Error("location stream unavailable", "error", err)
	}

	select {
	case s.status <- Status{State: st, Err: err}:
	default:
	}
}
