// Package geofence decides, sample by sample, which tour stop the walker has
// reached. The engine is edge-triggered: once a stop fires, nothing else
// fires until the consumer clears the pending trigger.
//
// An Engine is not safe for concurrent use. The tour session owns it and
// feeds it one sample at a time.
package geofence

import (
	"sort"

	"github.com/playperu/walktour/internal/geo"
	"github.com/playperu/walktour/internal/location"
	"github.com/playperu/walktour/internal/tour"
)

type EventType string

const (
	// EventTrigger fires for an unvisited stop whose radius was entered
	// while no other trigger was pending.
	EventTrigger EventType = "trigger"
	EventEnter   EventType = "enter"
	EventExit    EventType = "exit"
)

type Event struct {
	Type           EventType `json:"type"`
	StopID         int       `json:"stopId"`
	DistanceMeters float64   `json:"distanceMeters"`
}

// Snapshot is a copy of the engine's outputs, safe to hand to other
// goroutines.
type Snapshot struct {
	Enabled              bool       `json:"enabled"`
	VisitedStopIDs       []int      `json:"visitedStopIds"`
	TriggeredStop        *tour.Stop `json:"triggeredStop"`
	NearestUnvisitedStop *tour.Stop `json:"nearestUnvisitedStop"`
	DistanceToNearest    *float64   `json:"distanceToNearest"`
	DistanceToTargetStop *float64   `json:"distanceToTargetStop"`
}

type Engine struct {
	stops   []tour.Stop
	enabled bool

	visited   map[int]struct{}
	inside    map[int]bool
	triggered *tour.Stop

	last        *location.Sample
	nearest     *tour.Stop
	nearestDist *float64
	targetDist  *float64
}

func New(stops []tour.Stop) *Engine {
	return &Engine{
		stops:   append([]tour.Stop(nil), stops...),
		enabled: true,
		visited: make(map[int]struct{}),
		inside:  make(map[int]bool),
	}
}

// SetEnabled switches GPS automation on or off. While disabled the engine
// ignores samples and every output keeps its last value.
func (e *Engine) SetEnabled(on bool) { e.enabled = on }

func (e *Engine) Enabled() bool { return e.enabled }

// Process evaluates one sample against every stop. targetIndex is the
// progress machine's current stop; it only affects DistanceToTargetStop.
// Invalid samples are skipped.
func (e *Engine) Process(s location.Sample, targetIndex int) []Event {
	if !e.enabled || !s.Valid() {
		return nil
	}
	e.last = &s
	p := s.Point()

	var (
		events        []Event
		candidate     = -1
		candidateDist float64
		nearest       = -1
		nearestDist   float64
	)

	for i, st := range e.stops {
		d := geo.DistanceMeters(p, st.Point())
		in := d <= st.TriggerRadius

		switch {
		case in && !e.inside[st.ID]:
			events = append(events, Event{Type: EventEnter, StopID: st.ID, DistanceMeters: d})
		case !in && e.inside[st.ID]:
			events = append(events, Event{Type: EventExit, StopID: st.ID, DistanceMeters: d})
		}
		e.inside[st.ID] = in

		if _, seen := e.visited[st.ID]; seen {
			continue
		}
		if nearest < 0 || d < nearestDist {
			nearest, nearestDist = i, d
		}
		if in && (candidate < 0 || d < candidateDist) {
			candidate, candidateDist = i, d
		}
	}

	if nearest >= 0 {
		st := e.stops[nearest]
		e.nearest, e.nearestDist = &st, &nearestDist
	} else {
		e.nearest, e.nearestDist = nil, nil
	}

	if candidate >= 0 && e.triggered == nil {
		st := e.stops[candidate]
		e.triggered = &st
		events = append(events, Event{Type: EventTrigger, StopID: st.ID, DistanceMeters: candidateDist})
	}

	e.retarget(targetIndex)
	return events
}

// Retarget recomputes the distance to the stop at targetIndex from the last
// processed sample, for when navigation changes without a new fix.
func (e *Engine) Retarget(targetIndex int) {
	if !e.enabled {
		return
	}
	e.retarget(targetIndex)
}

func (e *Engine) retarget(targetIndex int) {
	if e.last == nil || targetIndex < 0 || targetIndex >= len(e.stops) {
		e.targetDist = nil
		return
	}
	d := geo.DistanceMeters(e.last.Point(), e.stops[targetIndex].Point())
	e.targetDist = &d
}

// TriggeredStop returns the pending trigger, if any.
func (e *Engine) TriggeredStop() (tour.Stop, bool) {
	if e.triggered == nil {
		return tour.Stop{}, false
	}
	return *e.triggered, true
}

// ClearTriggeredStop acknowledges the pending trigger so the next sample may
// fire again.
func (e *Engine) ClearTriggeredStop() { e.triggered = nil }

// MarkStopVisited stops id from ever triggering again this session.
func (e *Engine) MarkStopVisited(id int) { e.visited[id] = struct{}{} }

func (e *Engine) IsVisited(id int) bool {
	_, ok := e.visited[id]
	return ok
}

// VisitedStops returns the visited ids in ascending order.
func (e *Engine) VisitedStops() []int {
	ids := make([]int, 0, len(e.visited))
	for id := range e.visited {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// ResetVisited forgets visited stops and any pending trigger; used when the
// tour is restarted.
func (e *Engine) ResetVisited() {
	e.visited = make(map[int]struct{})
	e.triggered = nil
	e.nearest, e.nearestDist = nil, nil
}

func (e *Engine) Snapshot() Snapshot {
	snap := Snapshot{
		Enabled:        e.enabled,
		VisitedStopIDs: e.VisitedStops(),
	}
	if e.triggered != nil {
		st := *e.triggered
		snap.TriggeredStop = &st
	}
	if e.nearest != nil {
		st, d := *e.nearest, *e.nearestDist
		snap.NearestUnvisitedStop, snap.DistanceToNearest = &st, &d
	}
	if e.targetDist != nil {
		d := *e.targetDist
		snap.DistanceToTargetStop = &d
	}
	return snap
}
