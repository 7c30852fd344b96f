package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrUnknownDuration = errors.New("unknown media duration")

// ClockPlayer plays nothing; it tracks where a device's playback would be by
// wall clock. Durations come from tour metadata via SetDuration, or Fallback.
type ClockPlayer struct {
	Fallback time.Duration

	mu        sync.Mutex
	durations map[string]time.Duration
	now       func() time.Time
	afterFunc func(time.Duration, func()) *time.Timer
}

func NewClockPlayer(fallback time.Duration) *ClockPlayer {
	return &ClockPlayer{
		Fallback:  fallback,
		durations: make(map[string]time.Duration),
		now:       time.Now,
		afterFunc: time.AfterFunc,
	}
}

func (p *ClockPlayer) SetDuration(uri string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.durations[uri] = d
}

func (p *ClockPlayer) Load(ctx context.Context, uri string, onEnd func()) (Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	d, ok := p.durations[uri]
	p.mu.Unlock()
	if !ok || d <= 0 {
		d = p.Fallback
	}
	if d <= 0 {
		return nil, fmt.Errorf("loading %s: %w", uri, ErrUnknownDuration)
	}
	return &clockTrack{
		duration:  d,
		rate:      1,
		onEnd:     onEnd,
		now:       p.now,
		afterFunc: p.afterFunc,
	}, nil
}

type clockTrack struct {
	duration  time.Duration
	onEnd     func()
	now       func() time.Time
	afterFunc func(time.Duration, func()) *time.Timer

	mu      sync.Mutex
	rate    float64
	playing bool
	base    time.Duration
	started time.Time
	timer   *time.Timer
	run     uint64
	closed  bool
}

func (t *clockTrack) Duration() time.Duration { return t.duration }

func (t *clockTrack) Position() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.positionLocked()
}

func (t *clockTrack) positionLocked() time.Duration {
	if !t.playing {
		return t.base
	}
	elapsed := time.Duration(float64(t.now().Sub(t.started)) * t.rate)
	return min(t.base+elapsed, t.duration)
}

func (t *clockTrack) Play() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if t.playing {
		return nil
	}
	t.playing = true
	t.started = t.now()
	t.scheduleLocked()
	return nil
}

func (t *clockTrack) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.playing {
		return nil
	}
	t.base = t.positionLocked()
	t.playing = false
	t.stopTimerLocked()
	return nil
}

func (t *clockTrack) Seek(pos time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	t.base = max(0, min(pos, t.duration))
	t.started = t.now()
	if t.playing {
		t.scheduleLocked()
	}
	return nil
}

func (t *clockTrack) SetRate(rate float64) error {
	if rate <= 0 {
		return fmt.Errorf("invalid playback rate %v", rate)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.base = t.positionLocked()
	t.started = t.now()
	t.rate = rate
	if t.playing {
		t.scheduleLocked()
	}
	return nil
}

func (t *clockTrack) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.playing = false
	t.stopTimerLocked()
	return nil
}

func (t *clockTrack) scheduleLocked() {
	t.stopTimerLocked()
	remaining := time.Duration(float64(t.duration-t.base) / t.rate)
	run := t.run
	t.timer = t.afterFunc(remaining, func() { t.finish(run) })
}

func (t *clockTrack) stopTimerLocked() {
	t.run++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *clockTrack) finish(run uint64) {
	t.mu.Lock()
	if t.closed || !t.playing || run != t.run {
		t.mu.Unlock()
		return
	}
	t.playing = false
	t.base = t.duration
	t.timer = nil
	t.mu.Unlock()
	t.onEnd()
}
