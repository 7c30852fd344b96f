package location

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu      sync.Mutex
	grant   Grant
	permErr error
	openErr error
	opens   int
	closes  int
	ch      chan Sample
}

func newFakeSource() *fakeSource {
	return &fakeSource{grant: GrantGranted, ch: make(chan Sample, 16)}
}

func (f *fakeSource) RequestPermission(context.Context) (Grant, error) {
	return f.grant, f.permErr
}

func (f *fakeSource) Open(context.Context) (<-chan Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.ch, nil
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	return nil
}

func at(lat, lng float64) Sample {
	return Sample{Latitude: lat, Longitude: lng, Timestamp: time.Now()}
}

func receive(t *testing.T, s *Stream) Sample {
	t.Helper()
	select {
	case smp := <-s.Samples():
		return smp
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sample")
		return Sample{}
	}
}

func expectNothing(t *testing.T, s *Stream) {
	t.Helper()
	select {
	case smp := <-s.Samples():
		t.Fatalf("unexpected sample %+v", smp)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStreamStartIsIdempotent(t *testing.T) {
	src := newFakeSource()
	s := NewStream(src, slog.Default())

	require.NoError(t, s.Start(context.Background(), Options{}))
	require.NoError(t, s.Start(context.Background(), Options{}))
	defer s.Stop()

	assert.Equal(t, 1, src.opens)
	st, err := s.State()
	assert.Equal(t, StateRunning, st)
	assert.NoError(t, err)
}

func TestStreamStopWithoutStart(t *testing.T) {
	src := newFakeSource()
	s := NewStream(src, slog.Default())
	s.Stop()
	s.Stop()
	assert.Equal(t, 0, src.closes)
}

func TestStreamNoDeliveryAfterStop(t *testing.T) {
	src := newFakeSource()
	s := NewStream(src, slog.Default())
	require.NoError(t, s.Start(context.Background(), Options{}))

	src.ch <- at(53.48, -2.24)
	assert.Equal(t, 53.48, receive(t, s).Latitude)

	s.Stop()
	src.ch <- at(53.49, -2.24)
	expectNothing(t, s)
	assert.Equal(t, 1, src.closes)

	st, _ := s.State()
	assert.Equal(t, StateIdle, st)
}

func TestStreamCadenceFilter(t *testing.T) {
	src := newFakeSource()
	s := NewStream(src, slog.Default())

	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	s.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	require.NoError(t, s.Start(context.Background(), Options{
		MinInterval:       10 * time.Second,
		MinDistanceMeters: 20,
	}))
	defer s.Stop()

	// First fix always passes.
	src.ch <- at(53.4808, -2.2426)
	receive(t, s)

	// ~1 m away, 1 s later: filtered.
	advance(time.Second)
	src.ch <- at(53.48081, -2.2426)
	expectNothing(t, s)

	// ~55 m away: distance threshold passes it.
	advance(time.Second)
	src.ch <- at(53.4813, -2.2426)
	assert.Equal(t, 53.4813, receive(t, s).Latitude)

	// Same spot, but the interval has elapsed.
	advance(11 * time.Second)
	src.ch <- at(53.4813, -2.2426)
	receive(t, s)
}

func TestStreamDropsInaccurateAndMalformed(t *testing.T) {
	src := newFakeSource()
	s := NewStream(src, slog.Default())
	require.NoError(t, s.Start(context.Background(), Options{DesiredAccuracy: 50}))
	defer s.Stop()

	poor := 120.0
	good := 8.0
	src.ch <- Sample{Latitude: 53.48, Longitude: -2.24, Accuracy: &poor}
	src.ch <- Sample{Latitude: 123, Longitude: -2.24}
	src.ch <- Sample{Latitude: 53.47, Longitude: -2.24, Accuracy: &good}

	assert.Equal(t, 53.47, receive(t, s).Latitude)
}

func TestStreamPermissionDenied(t *testing.T) {
	src := newFakeSource()
	src.grant = GrantDenied
	s := NewStream(src, slog.Default())

	assert.Equal(t, GrantDenied, s.RequestPermission(context.Background()))
	st, err := s.State()
	assert.Equal(t, StateDenied, st)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	assert.ErrorIs(t, s.Start(context.Background(), Options{}), ErrPermissionDenied)
	assert.Equal(t, 0, src.opens)

	src.grant = GrantGranted
	assert.Equal(t, GrantGranted, s.RequestPermission(context.Background()))
	require.NoError(t, s.Start(context.Background(), Options{}))
	s.Stop()
}

func TestStreamPermissionError(t *testing.T) {
	src := newFakeSource()
	src.permErr = errors.New("no sensor")
	s := NewStream(src, slog.Default())
	assert.Equal(t, GrantDenied, s.RequestPermission(context.Background()))
}

func TestStreamSensorUnavailable(t *testing.T) {
	src := newFakeSource()
	src.openErr = errors.New("gps off")
	s := NewStream(src, slog.Default())

	err := s.Start(context.Background(), Options{})
	require.Error(t, err)

	st, stErr := s.State()
	assert.Equal(t, StateUnavailable, st)
	assert.ErrorContains(t, stErr, "gps off")

	status := <-s.StatusChanges()
	assert.Equal(t, StateUnavailable, status.State)
}

func TestStreamSourceEnds(t *testing.T) {
	src := newFakeSource()
	s := NewStream(src, slog.Default())
	require.NoError(t, s.Start(context.Background(), Options{}))
	<-s.StatusChanges() // running

	close(src.ch)

	select {
	case status := <-s.StatusChanges():
		assert.Equal(t, StateUnavailable, status.State)
		assert.ErrorIs(t, status.Err, ErrSourceClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("no status change")
	}
	s.Stop()
}

func TestPushSource(t *testing.T) {
	p := NewPushSource(1)
	ctx := context.Background()

	assert.ErrorIs(t, p.Push(ctx, at(1, 1)), ErrNotRunning)

	s := NewStream(p, slog.Default())
	require.NoError(t, s.Start(ctx, Options{}))

	require.NoError(t, p.Push(ctx, at(1, 1)))
	assert.Equal(t, 1.0, receive(t, s).Latitude)

	s.Stop()
	assert.ErrorIs(t, p.Push(ctx, at(2, 2)), ErrNotRunning)

	p.SetPermission(GrantDenied)
	assert.Equal(t, GrantDenied, s.RequestPermission(ctx))
}

const walkGPX = `<?xml version="1.0" encoding="UTF-8"?>
<gpx version="1.1" creator="test" xmlns="http://www.topografix.com/GPX/1/1">
  <trk><trkseg>
    <trkpt lat="53.4808" lon="-2.2426"><time>2026-05-01T10:00:00Z</time></trkpt>
    <trkpt lat="53.4812" lon="-2.2433"><time>2026-05-01T10:00:30Z</time></trkpt>
    <trkpt lat="53.4815" lon="-2.2440"><time>2026-05-01T10:01:00Z</time></trkpt>
  </trkseg></trk>
</gpx>`

func TestReplaySource(t *testing.T) {
	samples, err := ReadGPX(strings.NewReader(walkGPX))
	require.NoError(t, err)
	require.Len(t, samples, 3)
	assert.Equal(t, 53.4815, samples[2].Latitude)

	s := NewStream(NewReplaySource(samples, 0), slog.Default())
	require.NoError(t, s.Start(context.Background(), Options{}))
	defer s.Stop()

	for _, want := range samples {
		assert.Equal(t, want.Latitude, receive(t, s).Latitude)
	}
}

func TestReadGPXEmpty(t *testing.T) {
	_, err := ReadGPX(strings.NewReader(`<gpx version="1.1" xmlns="http://www.topografix.com/GPX/1/1"></gpx>`))
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	RegisterDefaults()
	RegisterDefaults()

	assert.True(t, Registered(SourcePush))
	assert.Error(t, Register(SourcePush, nil))

	src, err := New(SourcePush, Params{"buffer": "4"})
	require.NoError(t, err)
	assert.IsType(t, &PushSource{}, src)

	_, err = New("satellite-phone", nil)
	assert.ErrorIs(t, err, ErrUnknownSource)

	_, err = New(SourceReplay, Params{})
	assert.Error(t, err)
}
