package progress

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playperu/walktour/internal/kv"
	"github.com/playperu/walktour/internal/tour"
)

func fiveStopTour() tour.Tour {
	t := tour.Tour{ID: "lima"}
	for id := 1; id <= 5; id++ {
		t.Stops = append(t.Stops, tour.Stop{ID: id, TriggerRadius: 30})
	}
	return t
}

func saved(t *testing.T, store kv.Store, tourID string) Record {
	t.Helper()
	var rec Record
	require.NoError(t, store.Get(context.Background(), Key(tourID), &rec))
	return rec
}

func TestCompletion(t *testing.T) {
	ctx := context.Background()
	m := New(fiveStopTour(), kv.NewMemoryStore(), slog.Default())

	for _, id := range []int{1, 2, 3, 4} {
		m.MarkComplete(ctx, id)
	}
	assert.False(t, m.IsComplete())
	assert.False(t, m.TakeCompletion())

	m.MarkComplete(ctx, 5)
	assert.True(t, m.IsComplete())
	assert.True(t, m.TakeCompletion())
	assert.False(t, m.TakeCompletion(), "completion signals once")
}

func TestNavigationBounds(t *testing.T) {
	ctx := context.Background()
	m := New(fiveStopTour(), kv.NewMemoryStore(), slog.Default())

	assert.False(t, m.GoToStop(ctx, -1))
	assert.False(t, m.GoToStop(ctx, 5))
	assert.Equal(t, 0, m.CurrentIndex())

	assert.False(t, m.GoToPreviousStop(ctx))
	assert.Equal(t, 0, m.CurrentIndex())

	assert.True(t, m.GoToStop(ctx, 4))
	assert.False(t, m.GoToNextStop(ctx))
	assert.Equal(t, 4, m.CurrentIndex())

	assert.True(t, m.GoToPreviousStop(ctx))
	assert.Equal(t, 3, m.CurrentIndex())
	id, ok := m.CurrentStopID()
	require.True(t, ok)
	assert.Equal(t, 4, id)
}

func TestMarkCurrentCompleteIdempotent(t *testing.T) {
	ctx := context.Background()
	m := New(fiveStopTour(), kv.NewMemoryStore(), slog.Default())

	assert.True(t, m.MarkCurrentComplete(ctx))
	assert.False(t, m.MarkCurrentComplete(ctx))
	assert.False(t, m.MarkComplete(ctx, 42), "unknown id ignored")
	assert.Equal(t, []int{1}, m.Snapshot().CompletedStopIDs)
}

func TestPersistsEveryTransition(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	m := New(fiveStopTour(), store, slog.Default())

	m.GoToNextStop(ctx)
	assert.Equal(t, 1, saved(t, store, "lima").CurrentStopIndex)

	m.MarkCurrentComplete(ctx)
	assert.Equal(t, []int{2}, saved(t, store, "lima").CompletedStopIDs)

	m.SetAudioPosition(12000)
	m.Save(ctx)
	require.NotNil(t, saved(t, store, "lima").AudioPositionMs)
	assert.Equal(t, int64(12000), *saved(t, store, "lima").AudioPositionMs)

	// Changing stop drops the narration position.
	m.GoToNextStop(ctx)
	assert.Nil(t, saved(t, store, "lima").AudioPositionMs)
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	pos := int64(3000)
	require.NoError(t, store.Set(ctx, Key("lima"), Record{
		CurrentStopIndex: 2,
		CompletedStopIDs: []int{1, 2, 99},
		AudioPositionMs:  &pos,
	}))

	m := New(fiveStopTour(), store, slog.Default())
	require.NoError(t, m.Restore(ctx))

	assert.Equal(t, 2, m.CurrentIndex())
	assert.Equal(t, []int{1, 2}, m.Snapshot().CompletedStopIDs)
	got, ok := m.AudioPosition()
	assert.True(t, ok)
	assert.Equal(t, int64(3000), got)
}

func TestRestoreClampsIndex(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	require.NoError(t, store.Set(ctx, Key("lima"), Record{CurrentStopIndex: 17}))

	m := New(fiveStopTour(), store, slog.Default())
	require.NoError(t, m.Restore(ctx))
	assert.Equal(t, 4, m.CurrentIndex())
}

func TestRestoreCompletedTourDoesNotResignal(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	require.NoError(t, store.Set(ctx, Key("lima"), Record{CompletedStopIDs: []int{1, 2, 3, 4, 5}}))

	m := New(fiveStopTour(), store, slog.Default())
	require.NoError(t, m.Restore(ctx))
	assert.True(t, m.IsComplete())
	assert.False(t, m.TakeCompletion())
}

func TestRestoreWithoutRecord(t *testing.T) {
	m := New(fiveStopTour(), kv.NewMemoryStore(), slog.Default())
	require.NoError(t, m.Restore(context.Background()))
	assert.Equal(t, 0, m.CurrentIndex())
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	m := New(fiveStopTour(), store, slog.Default())

	m.GoToStop(ctx, 3)
	m.MarkCurrentComplete(ctx)
	m.Reset(ctx)

	assert.Equal(t, 0, m.CurrentIndex())
	assert.Empty(t, m.Snapshot().CompletedStopIDs)
	var rec Record
	assert.ErrorIs(t, store.Get(ctx, Key("lima"), &rec), kv.ErrNotFound)
}

func TestEmptyTour(t *testing.T) {
	ctx := context.Background()
	m := New(tour.Tour{ID: "empty"}, kv.NewMemoryStore(), slog.Default())

	assert.False(t, m.GoToStop(ctx, 0))
	assert.False(t, m.GoToNextStop(ctx))
	assert.False(t, m.MarkCurrentComplete(ctx))
	assert.False(t, m.IsComplete())
	_, ok := m.CurrentStopID()
	assert.False(t, ok)
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string, any) error { return errors.New("disk on fire") }
func (brokenStore) Set(context.Context, string, any) error { return errors.New("disk on fire") }
func (brokenStore) Delete(context.Context, string) error   { return errors.New("disk on fire") }

func TestStoreFailuresDoNotBlock(t *testing.T) {
	ctx := context.Background()
	m := New(fiveStopTour(), brokenStore{}, slog.Default())

	assert.Error(t, m.Restore(ctx))
	assert.True(t, m.GoToNextStop(ctx))
	assert.True(t, m.MarkCurrentComplete(ctx))
	m.Reset(ctx)
	assert.Equal(t, 0, m.CurrentIndex())
}
