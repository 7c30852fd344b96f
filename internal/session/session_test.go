package session

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playperu/walktour/internal/audio"
	"github.com/playperu/walktour/internal/kv"
	"github.com/playperu/walktour/internal/location"
	"github.com/playperu/walktour/internal/progress"
	"github.com/playperu/walktour/internal/tour"
)

const waitFor = 2 * time.Second

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func manchester() tour.Tour {
	return tour.Tour{
		ID:   "manchester",
		Name: "Northern Quarter",
		Stops: []tour.Stop{
			{ID: 1, Name: "Piccadilly Gardens", Latitude: 53.4808, Longitude: -2.2426, TriggerRadius: 30, AudioRef: "audio/01-stop.mp3"},
			{ID: 2, Name: "Stevenson Square", Latitude: 53.4815, Longitude: -2.2440, TriggerRadius: 30, AudioRef: "audio/02-stop.mp3"},
		},
	}
}

func defaultSettings() Settings {
	return Settings{TriggerRadiusMeters: 30, PlaybackSpeed: 1}
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

// record collects every event published for id until the test ends.
func record(t *testing.T, b *Broker, id string) *recorder {
	t.Helper()
	r := &recorder{}
	ch := b.Subscribe(id)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case data := <-ch:
				var ev Event
				if err := json.Unmarshal(data, &ev); err == nil {
					r.mu.Lock()
					r.events = append(r.events, ev)
					r.mu.Unlock()
				}
			case <-stop:
				return
			}
		}
	}()
	t.Cleanup(func() {
		close(stop)
		<-done
		b.Unsubscribe(id, ch)
	})
	return r
}

func (r *recorder) count(typ string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func (r *recorder) last() Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return Event{}
	}
	return r.events[len(r.events)-1]
}

type fixture struct {
	session *Session
	source  *location.PushSource
	store   *kv.MemoryStore
	events  *recorder
}

type fixtureOpt func(*Options)

func newFixture(t *testing.T, narration time.Duration, opts ...fixtureOpt) *fixture {
	t.Helper()
	broker := NewBroker()
	store := kv.NewMemoryStore()
	src := location.NewPushSource(16)

	o := Options{
		ID:       "s1",
		Tour:     manchester(),
		Source:   src,
		Player:   audio.NewClockPlayer(narration),
		Store:    store,
		Settings: defaultSettings(),
		Broker:   broker,
		Logger:   discardLogger(),
	}
	for _, fn := range opts {
		fn(&o)
	}

	f := &fixture{
		session: New(o),
		source:  src,
		store:   store,
		events:  record(t, broker, o.ID),
	}
	t.Cleanup(f.session.Close)
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.session.Start(context.Background()))
}

func (f *fixture) push(t *testing.T, lat, lng float64) {
	t.Helper()
	require.NoError(t, f.session.Push(context.Background(), location.Sample{
		Latitude:  lat,
		Longitude: lng,
		Timestamp: time.Now(),
	}))
}

func (f *fixture) state(t *testing.T) State {
	t.Helper()
	st, err := f.session.State(context.Background())
	require.NoError(t, err)
	return st
}

func (f *fixture) eventually(t *testing.T, cond func(State) bool, msg string) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, err := f.session.State(context.Background())
		return err == nil && cond(st)
	}, waitFor, 5*time.Millisecond, msg)
}

func autoPlay(o *Options) { o.Settings.AutoPlay = true }

func autoAdvance(o *Options) { o.Settings.AutoAdvance = true }

func TestManchesterWalk(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond, autoPlay)
	f.start(t)

	f.push(t, 53.4808, -2.2426)
	f.eventually(t, func(st State) bool {
		return len(st.Progress.CompletedStopIDs) == 1
	}, "stop 1 narration should finish")

	st := f.state(t)
	assert.Equal(t, 0, st.Progress.CurrentStopIndex)
	assert.Equal(t, []int{1}, st.Geofence.VisitedStopIDs)
	assert.Nil(t, st.Geofence.TriggeredStop, "trigger cleared by the session")

	f.push(t, 53.4815, -2.2440)
	f.eventually(t, func(st State) bool {
		return st.Progress.IsComplete
	}, "tour should complete")

	st = f.state(t)
	assert.Equal(t, 1, st.Progress.CurrentStopIndex)
	assert.Equal(t, 2, st.Progress.TotalStops)
	require.NotNil(t, st.Geofence.DistanceToTargetStop)
	assert.InDelta(t, 0, *st.Geofence.DistanceToTargetStop, 0.5)
	assert.Equal(t, "0 ft", st.DistanceToTargetText)

	assert.Equal(t, 1, f.events.count(EventTourComplete))
	assert.Equal(t, 1, f.events.count(EventStopChanged), "only the jump to stop 2 changes the stop")
}

func TestTriggerWithoutAutoPlay(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.start(t)

	f.push(t, 53.4815, -2.2440)
	f.eventually(t, func(st State) bool {
		return st.Progress.CurrentStopIndex == 1 && st.Audio.Status == audio.StatusReady
	}, "trigger should jump to stop 2 and load its narration")

	st := f.state(t)
	assert.Equal(t, "audio/02-stop.mp3", st.Audio.Ref)
	assert.False(t, st.Audio.IsPlaying)
	assert.Empty(t, st.Progress.CompletedStopIDs)
}

func TestTriggerKeepsCurrentNarration(t *testing.T) {
	f := newFixture(t, time.Hour, autoPlay)
	f.start(t)
	ctx := context.Background()

	changed, err := f.session.Navigate(ctx, NavGoTo, 1)
	require.NoError(t, err)
	require.True(t, changed)
	f.eventually(t, func(st State) bool {
		return st.Audio.Status == audio.StatusReady && st.Audio.Ref == "audio/02-stop.mp3"
	}, "navigation loads stop 2")

	_, err = f.session.Audio(ctx, AudioCommand{Action: AudioSeek, PositionMs: 30000})
	require.NoError(t, err)
	gen := f.session.audio.Generation()

	f.push(t, 53.4815, -2.2440)
	f.eventually(t, func(st State) bool {
		return len(st.Geofence.VisitedStopIDs) == 1 && st.Audio.IsPlaying
	}, "arriving at stop 2 starts its narration")

	st := f.state(t)
	assert.Equal(t, []int{2}, st.Geofence.VisitedStopIDs)
	assert.GreaterOrEqual(t, st.Audio.PositionMs, int64(30000))
	assert.Equal(t, gen, f.session.audio.Generation(), "narration was not reloaded")
}

func TestAutoAdvance(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond, autoPlay, autoAdvance)
	f.start(t)

	f.push(t, 53.4808, -2.2426)
	f.eventually(t, func(st State) bool {
		return st.Progress.CurrentStopIndex == 1 && len(st.Progress.CompletedStopIDs) == 1
	}, "should advance after narration")

	st := f.state(t)
	assert.Equal(t, "audio/02-stop.mp3", st.Audio.Ref)
	assert.False(t, st.Progress.IsComplete)
}

func TestRestoreBeforeFirstSample(t *testing.T) {
	f := newFixture(t, time.Hour)
	require.NoError(t, f.store.Set(context.Background(), progress.Key("manchester"), progress.Record{
		CurrentStopIndex: 1,
		CompletedStopIDs: []int{1},
	}))
	f.start(t)

	st := f.state(t)
	assert.Equal(t, 1, st.Progress.CurrentStopIndex)
	assert.Equal(t, []int{1}, st.Geofence.VisitedStopIDs)

	f.push(t, 53.4808, -2.2426)
	f.eventually(t, func(st State) bool {
		return st.Location.LastSample != nil
	}, "sample should be processed")

	st = f.state(t)
	assert.Equal(t, 1, st.Progress.CurrentStopIndex, "visited stop must not re-trigger")
	assert.Nil(t, st.Geofence.TriggeredStop)
}

func TestRestoreResumesAudioPosition(t *testing.T) {
	f := newFixture(t, time.Hour)
	pos := int64(42000)
	require.NoError(t, f.store.Set(context.Background(), progress.Key("manchester"), progress.Record{
		AudioPositionMs: &pos,
	}))
	f.start(t)

	f.eventually(t, func(st State) bool {
		return st.Audio.Status == audio.StatusReady
	}, "narration should load")
	assert.Equal(t, pos, f.state(t).Audio.PositionMs)
}

func TestPermissionDeniedSwitchesToManual(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.source.SetPermission(location.GrantDenied)
	f.start(t)

	st := f.state(t)
	assert.True(t, st.Manual)
	assert.False(t, st.Geofence.Enabled)
	assert.Equal(t, location.StateDenied, st.Location.State)

	// manual navigation still works
	changed, err := f.session.Navigate(context.Background(), NavNext, 0)
	require.NoError(t, err)
	assert.True(t, changed)

	require.NoError(t, f.session.SetPermission(context.Background(), location.GrantGranted))
	st = f.state(t)
	assert.False(t, st.Manual)
	assert.Equal(t, location.StateRunning, st.Location.State)

	f.push(t, 53.4808, -2.2426)
	f.eventually(t, func(st State) bool {
		return st.Progress.CurrentStopIndex == 0
	}, "trigger after permission granted")
}

func TestManualModeIgnoresSamples(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.start(t)
	require.NoError(t, f.session.SetManual(context.Background(), true))

	f.push(t, 53.4815, -2.2440)
	time.Sleep(50 * time.Millisecond)

	st := f.state(t)
	assert.True(t, st.Manual)
	assert.Nil(t, st.Location.LastSample)
	assert.Equal(t, 0, st.Progress.CurrentStopIndex)
}

func TestNavigate(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.start(t)
	ctx := context.Background()

	changed, err := f.session.Navigate(ctx, NavPrevious, 0)
	require.NoError(t, err)
	assert.False(t, changed, "previous at first stop")

	changed, err = f.session.Navigate(ctx, NavGoTo, 5)
	require.NoError(t, err)
	assert.False(t, changed, "out of range")

	changed, err = f.session.Navigate(ctx, NavGoTo, 1)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = f.session.Navigate(ctx, NavNext, 0)
	require.NoError(t, err)
	assert.False(t, changed, "next at last stop")

	_, err = f.session.Navigate(ctx, "sideways", 0)
	require.ErrorIs(t, err, ErrUnknownCommand)

	f.eventually(t, func(st State) bool {
		return st.Audio.Ref == "audio/02-stop.mp3"
	}, "navigation loads the stop's narration")
}

func TestCompleteAndRestart(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.start(t)
	ctx := context.Background()

	require.NoError(t, f.session.CompleteCurrent(ctx))
	_, err := f.session.Navigate(ctx, NavNext, 0)
	require.NoError(t, err)
	require.NoError(t, f.session.CompleteCurrent(ctx))
	require.NoError(t, f.session.CompleteCurrent(ctx))

	st := f.state(t)
	assert.True(t, st.Progress.IsComplete)
	assert.Equal(t, []int{1, 2}, st.Geofence.VisitedStopIDs)
	assert.Eventually(t, func() bool {
		return f.events.count(EventTourComplete) == 1
	}, waitFor, 5*time.Millisecond)

	require.NoError(t, f.session.Restart(ctx))
	st = f.state(t)
	assert.Equal(t, 0, st.Progress.CurrentStopIndex)
	assert.Empty(t, st.Progress.CompletedStopIDs)
	assert.Empty(t, st.Geofence.VisitedStopIDs)
	assert.Eventually(t, func() bool {
		return f.events.count(EventStopChanged) == 2
	}, waitFor, 5*time.Millisecond, "navigation and restart each announce a stop change")

	f.eventually(t, func(st State) bool {
		return st.Audio.Status == audio.StatusReady && st.Audio.Ref == "audio/01-stop.mp3"
	}, "first stop narration loads after restart")
	assert.False(t, f.state(t).Audio.IsPlaying)

	ast, err := f.session.Audio(ctx, AudioCommand{Action: AudioPlay})
	require.NoError(t, err)
	assert.True(t, ast.IsPlaying)

	var rec progress.Record
	assert.ErrorIs(t, f.store.Get(ctx, progress.Key("manchester"), &rec), kv.ErrNotFound)
}

func TestAudioCommands(t *testing.T) {
	f := newFixture(t, 90*time.Second)
	f.start(t)
	ctx := context.Background()

	f.eventually(t, func(st State) bool {
		return st.Audio.Status == audio.StatusReady
	}, "narration should load")

	st, err := f.session.Audio(ctx, AudioCommand{Action: AudioSeek, PositionMs: 999999})
	require.NoError(t, err)
	assert.Equal(t, int64(90000), st.PositionMs)

	st, err = f.session.Audio(ctx, AudioCommand{Action: AudioSkip, Seconds: -30})
	require.NoError(t, err)
	assert.Equal(t, int64(60000), st.PositionMs)

	st, err = f.session.Audio(ctx, AudioCommand{Action: AudioSpeed, Speed: 1.5})
	require.NoError(t, err)
	assert.Equal(t, 1.5, st.PlaybackSpeed)
	assert.Equal(t, 1.5, f.state(t).Settings.PlaybackSpeed)

	st, err = f.session.Audio(ctx, AudioCommand{Action: AudioPlay})
	require.NoError(t, err)
	assert.True(t, st.IsPlaying)

	st, err = f.session.Audio(ctx, AudioCommand{Action: AudioPause})
	require.NoError(t, err)
	assert.False(t, st.IsPlaying)

	var rec progress.Record
	require.NoError(t, f.store.Get(ctx, progress.Key("manchester"), &rec))
	require.NotNil(t, rec.AudioPositionMs, "pause saves the position")

	_, err = f.session.Audio(ctx, AudioCommand{Action: "rewind"})
	require.ErrorIs(t, err, ErrUnknownCommand)
}

func TestClose(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.start(t)
	ctx := context.Background()

	f.session.Close()
	f.session.Close()

	select {
	case <-f.session.Closed():
	default:
		t.Fatal("closed channel still open")
	}

	_, err := f.session.State(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, f.session.Push(ctx, location.Sample{Latitude: 1, Longitude: 1}), ErrClosed)
	assert.ErrorIs(t, f.session.Start(ctx), ErrClosed)

	assert.Eventually(t, func() bool {
		return f.events.last().Type == EventClosed
	}, waitFor, 5*time.Millisecond)
}

func TestCloseWithoutStart(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.session.Close()

	_, err := f.session.State(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCommandsBeforeStart(t *testing.T) {
	f := newFixture(t, time.Hour)
	_, err := f.session.State(context.Background())
	assert.ErrorIs(t, err, ErrNotStarted)
}
