// Package progress is the tour progress state machine: which stop the walker
// is at, which stops are done, and whether the tour is finished. Every change
// is written through to a key-value store so a resumed session picks up
// where it left off.
//
// A Machine is owned by one tour session and is not safe for concurrent use.
package progress

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/playperu/walktour/internal/kv"
	"github.com/playperu/walktour/internal/tour"
)

// Store is the subset of kv.Store the machine needs.
type Store interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, v any) error
	Delete(ctx context.Context, key string) error
}

// Record is the persisted form of a tour's progress.
type Record struct {
	CurrentStopIndex int    `json:"currentStopIndex"`
	CompletedStopIDs []int  `json:"completedStopIds"`
	AudioPositionMs  *int64 `json:"audioPositionMs,omitempty"`
}

// Key returns the store key for a tour's progress record.
func Key(tourID string) string { return "progress:" + tourID }

type Snapshot struct {
	CurrentStopIndex int    `json:"currentStopIndex"`
	CompletedStopIDs []int  `json:"completedStopIds"`
	TotalStops       int    `json:"totalStops"`
	IsComplete       bool   `json:"isComplete"`
	AudioPositionMs  *int64 `json:"audioPositionMs,omitempty"`
}

type Machine struct {
	tourID  string
	stopIDs []int
	store   Store
	logger  *slog.Logger

	current   int
	completed map[int]struct{}
	audioPos  *int64
	signaled  bool
}

func New(t tour.Tour, store Store, logger *slog.Logger) *Machine {
	ids := make([]int, len(t.Stops))
	for i, s := range t.Stops {
		ids[i] = s.ID
	}
	return &Machine{
		tourID:    t.ID,
		stopIDs:   ids,
		store:     store,
		logger:    logger.With("tour_id", t.ID),
		completed: make(map[int]struct{}),
	}
}

// Restore loads the saved record, if any. Saved indexes outside the tour are
// clamped and completed ids the tour no longer has are dropped. A tour that
// was already finished does not signal completion again.
func (m *Machine) Restore(ctx context.Context) error {
	var rec Record
	err := m.store.Get(ctx, Key(m.tourID), &rec)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	m.current = clamp(rec.CurrentStopIndex, len(m.stopIDs))
	m.completed = make(map[int]struct{}, len(rec.CompletedStopIDs))
	for _, id := range rec.CompletedStopIDs {
		if m.indexOf(id) >= 0 {
			m.completed[id] = struct{}{}
		}
	}
	m.audioPos = rec.AudioPositionMs
	m.signaled = m.IsComplete()
	return nil
}

func (m *Machine) CurrentIndex() int { return m.current }

func (m *Machine) TotalStops() int { return len(m.stopIDs) }

// CurrentStopID returns the id of the current stop; false for an empty tour.
func (m *Machine) CurrentStopID() (int, bool) {
	if len(m.stopIDs) == 0 {
		return 0, false
	}
	return m.stopIDs[m.current], true
}

// GoToStop moves to index. Out-of-range indexes are ignored. It reports
// whether the current stop changed.
func (m *Machine) GoToStop(ctx context.Context, index int) bool {
	if index < 0 || index >= len(m.stopIDs) || index == m.current {
		return false
	}
	m.current = index
	m.audioPos = nil
	m.save(ctx)
	return true
}

func (m *Machine) GoToNextStop(ctx context.Context) bool {
	return m.GoToStop(ctx, m.current+1)
}

func (m *Machine) GoToPreviousStop(ctx context.Context) bool {
	return m.GoToStop(ctx, m.current-1)
}

// MarkCurrentComplete adds the current stop to the completed set. It reports
// whether the set grew.
func (m *Machine) MarkCurrentComplete(ctx context.Context) bool {
	id, ok := m.CurrentStopID()
	if !ok {
		return false
	}
	return m.MarkComplete(ctx, id)
}

// MarkComplete adds stopID to the completed set; unknown ids are ignored.
func (m *Machine) MarkComplete(ctx context.Context, stopID int) bool {
	if m.indexOf(stopID) < 0 {
		return false
	}
	if _, done := m.completed[stopID]; done {
		return false
	}
	m.completed[stopID] = struct{}{}
	m.save(ctx)
	return true
}

func (m *Machine) IsCompleted(stopID int) bool {
	_, ok := m.completed[stopID]
	return ok
}

// IsComplete reports whether every stop has been completed. An empty tour is
// never complete.
func (m *Machine) IsComplete() bool {
	return len(m.stopIDs) > 0 && len(m.completed) == len(m.stopIDs)
}

// TakeCompletion returns true exactly once per session after the tour
// becomes complete.
func (m *Machine) TakeCompletion() bool {
	if m.signaled || !m.IsComplete() {
		return false
	}
	m.signaled = true
	return true
}

// SetAudioPosition remembers the narration position for resume. It is only
// written out with the next save.
func (m *Machine) SetAudioPosition(ms int64) {
	m.audioPos = &ms
}

func (m *Machine) AudioPosition() (int64, bool) {
	if m.audioPos == nil {
		return 0, false
	}
	return *m.audioPos, true
}

// Save writes the current record immediately.
func (m *Machine) Save(ctx context.Context) { m.save(ctx) }

// Reset goes back to the first stop, forgets completed stops and removes the
// saved record.
func (m *Machine) Reset(ctx context.Context) {
	m.current = 0
	m.completed = make(map[int]struct{})
	m.audioPos = nil
	m.signaled = false
	if err := m.store.Delete(ctx, Key(m.tourID)); err != nil {
		m.logger.Error("clearing progress", "error", err)
	}
}

func (m *Machine) Snapshot() Snapshot {
	snap := Snapshot{
		CurrentStopIndex: m.current,
		CompletedStopIDs: m.completedIDs(),
		TotalStops:       len(m.stopIDs),
		IsComplete:       m.IsComplete(),
	}
	if m.audioPos != nil {
		pos := *m.audioPos
		snap.AudioPositionMs = &pos
	}
	return snap
}

func (m *Machine) save(ctx context.Context) {
	rec := Record{
		CurrentStopIndex: m.current,
		CompletedStopIDs: m.completedIDs(),
		AudioPositionMs:  m.audioPos,
	}
	if err := m.store.Set(ctx, Key(m.tourID), rec); err != nil {
		m.logger.Error("saving progress", "error", err)
	}
}

func (m *Machine) completedIDs() []int {
	ids := make([]int, 0, len(m.completed))
	for id := range m.completed {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (m *Machine) indexOf(id int) int {
	for i, sid := range m.stopIDs {
		if sid == id {
			return i
		}
	}
	return -1
}

func clamp(i, n int) int {
	switch {
	case n == 0 || i < 0:
		return 0
	case i >= n:
		return n - 1
	}
	return i
}
