package location

import (
	"context"
	"sync"
)

// PushSource is fed by a device that owns the real sensor and forwards its
// fixes over the network. The device also reports its permission state.
type PushSource struct {
	buffer int

	mu    sync.Mutex
	grant Grant
	ch    chan Sample
	done  chan struct{}
}

func NewPushSource(buffer int) *PushSource {
	return &PushSource{buffer: buffer, grant: GrantGranted}
}

// SetPermission records the permission state reported by the device.
func (p *PushSource) SetPermission(g Grant) {
	p.mu.Lock()
	p.grant = g
	p.mu.Unlock()
}

func (p *PushSource) RequestPermission(context.Context) (Grant, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.grant, nil
}

func (p *PushSource) Open(context.Context) (<-chan Sample, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		p.ch = make(chan Sample, p.buffer)
		p.done = make(chan struct{})
	}
	return p.ch, nil
}

// Close stops accepting pushes. The sample channel is left open so a
// concurrent Push can never hit a closed channel.
func (p *PushSource) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		close(p.done)
		p.ch, p.done = nil, nil
	}
	return nil
}

// Push hands a fix to the stream. It blocks while the buffer is full and
// fails with ErrNotRunning when the source is closed.
func (p *PushSource) Push(ctx context.Context, s Sample) error {
	p.mu.Lock()
	ch, done := p.ch, p.done
	p.mu.Unlock()

	if ch == nil {
		return ErrNotRunning
	}
	select {
	case ch <- s:
		return nil
	case <-done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}
