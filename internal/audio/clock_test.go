package audio

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestClockPlayer(clk *manualClock) *ClockPlayer {
	p := NewClockPlayer(0)
	p.now = clk.Now
	return p
}

func TestClockPlayerUnknownDuration(t *testing.T) {
	p := NewClockPlayer(0)
	_, err := p.Load(context.Background(), "x.mp3", func() {})
	require.ErrorIs(t, err, ErrUnknownDuration)

	p.Fallback = time.Minute
	tr, err := p.Load(context.Background(), "x.mp3", func() {})
	require.NoError(t, err)
	assert.Equal(t, time.Minute, tr.Duration())
}

func TestClockTrackPosition(t *testing.T) {
	clk := &manualClock{now: time.Unix(1000, 0)}
	p := newTestClockPlayer(clk)
	p.SetDuration("a.mp3", 90*time.Second)

	tr, err := p.Load(context.Background(), "a.mp3", func() {})
	require.NoError(t, err)
	defer tr.Close()

	require.NoError(t, tr.Play())
	clk.Advance(10 * time.Second)
	assert.Equal(t, 10*time.Second, tr.Position())

	require.NoError(t, tr.SetRate(2))
	clk.Advance(5 * time.Second)
	assert.Equal(t, 20*time.Second, tr.Position())

	require.NoError(t, tr.Pause())
	clk.Advance(time.Hour)
	assert.Equal(t, 20*time.Second, tr.Position())

	require.NoError(t, tr.Seek(time.Hour))
	assert.Equal(t, 90*time.Second, tr.Position())
}

func TestClockTrackEnds(t *testing.T) {
	p := NewClockPlayer(0)
	p.SetDuration("short.mp3", 20*time.Millisecond)

	ended := make(chan struct{}, 2)
	tr, err := p.Load(context.Background(), "short.mp3", func() { ended <- struct{}{} })
	require.NoError(t, err)
	defer tr.Close()

	require.NoError(t, tr.Play())
	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatal("track never ended")
	}
	assert.Equal(t, 20*time.Millisecond, tr.Position())
}

func TestClockTrackCloseStopsTimer(t *testing.T) {
	p := NewClockPlayer(0)
	p.SetDuration("short.mp3", 20*time.Millisecond)

	ended := make(chan struct{}, 1)
	tr, err := p.Load(context.Background(), "short.mp3", func() { ended <- struct{}{} })
	require.NoError(t, err)
	require.NoError(t, tr.Play())
	require.NoError(t, tr.Close())

	select {
	case <-ended:
		t.Fatal("closed track reported end")
	case <-time.After(80 * time.Millisecond):
	}
}

func TestControllerWithClockPlayer(t *testing.T) {
	p := NewClockPlayer(0)
	p.SetDuration("stop.mp3", 30*time.Millisecond)
	c := NewController(p, nil, discardLogger())
	defer c.Close()

	c.Load("stop.mp3", WithAutoplay())
	ev := waitEvent(t, c, EventCompleted)
	assert.Equal(t, "stop.mp3", ev.Ref)
	assert.False(t, c.State().IsPlaying)
}
