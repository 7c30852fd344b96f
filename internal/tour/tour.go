// Package tour defines the tour data model and the folder-backed tour data
// source. A Tour is loaded once per session and never mutated afterwards.
package tour

import (
	"errors"
	"fmt"

	"github.com/playperu/walktour/internal/geo"
)

var ErrNotFound = errors.New("tour not found")

// ParseError reports a tour.json that could not be decoded or that violates
// the data model.
type ParseError struct {
	Tour string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("tour %q: %v", e.Tour, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

type Stop struct {
	ID            int     `json:"id"`
	Name          string  `json:"name"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	TriggerRadius float64 `json:"triggerRadius"`
	AudioRef      string  `json:"audioRef"`
	// EstimatedDuration is the narration length in seconds, 0 when unknown.
	EstimatedDuration int    `json:"estimatedDuration,omitempty"`
	Script            string `json:"script,omitempty"`
	// RadiusDefaulted marks a stop whose tour.json gave no triggerRadius.
	RadiusDefaulted bool `json:"-"`
}

func (s Stop) Point() geo.Point {
	return geo.Point{Latitude: s.Latitude, Longitude: s.Longitude}
}

type Tour struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	StartPoint  geo.Point `json:"startPoint"`
	Stops       []Stop    `json:"stops"`
}

// IndexOf returns the list position of the stop with the given id, or -1.
func (t Tour) IndexOf(stopID int) int {
	for i, s := range t.Stops {
		if s.ID == stopID {
			return i
		}
	}
	return -1
}

// WithDefaultRadius returns a copy of t in which stops that rely on the
// default trigger radius use r instead. Non-positive r leaves t unchanged.
func (t Tour) WithDefaultRadius(r float64) Tour {
	if r <= 0 {
		return t
	}
	stops := make([]Stop, len(t.Stops))
	copy(stops, t.Stops)
	for i := range stops {
		if stops[i].RadiusDefaulted {
			stops[i].TriggerRadius = r
		}
	}
	t.Stops = stops
	return t
}

// Points returns the stop coordinates in tour order.
func (t Tour) Points() []geo.Point {
	pts := make([]geo.Point, 0, len(t.Stops))
	for _, s := range t.Stops {
		pts = append(pts, s.Point())
	}
	return pts
}

// Validate checks the data model invariants: unique stop ids, positive
// trigger radius, coordinates in range.
func (t Tour) Validate() error {
	if t.ID == "" {
		return errors.New("missing id")
	}
	seen := make(map[int]struct{}, len(t.Stops))
	for i, s := range t.Stops {
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("stop %d: duplicate id %d", i, s.ID)
		}
		seen[s.ID] = struct{}{}

		if s.TriggerRadius <= 0 {
			return fmt.Errorf("stop %d: trigger radius must be positive", s.ID)
		}
		if !geo.Valid(s.Point()) {
			return fmt.Errorf("stop %d: coordinates out of range", s.ID)
		}
	}
	return nil
}
