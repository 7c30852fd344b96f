// Package location turns a position sensor into a filtered, lifecycle-managed
// stream of samples. The sensor itself is a Source: a device pushing fixes
// over the network, or a recorded walk being replayed.
package location

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/playperu/walktour/internal/geo"
)

var (
	ErrPermissionDenied = errors.New("location permission denied")
	ErrSourceClosed     = errors.New("location source closed")
	ErrNotRunning       = errors.New("location source not running")
)

// Sample is one position fix. Accuracy and Heading are nil when the sensor
// did not report them.
type Sample struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	Heading   *float64  `json:"heading,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (s Sample) Point() geo.Point {
	return geo.Point{Latitude: s.Latitude, Longitude: s.Longitude}
}

// Valid reports whether the sample can be evaluated at all.
func (s Sample) Valid() bool {
	if !geo.Valid(s.Point()) {
		return false
	}
	if s.Accuracy != nil && (math.IsNaN(*s.Accuracy) || *s.Accuracy < 0) {
		return false
	}
	return true
}

type Grant string

const (
	GrantGranted Grant = "granted"
	GrantDenied  Grant = "denied"
)

// Source is the platform position sensor.
type Source interface {
	RequestPermission(ctx context.Context) (Grant, error)
	// Open starts the sensor. The returned channel is closed if the sensor
	// stops on its own.
	Open(ctx context.Context) (<-chan Sample, error)
	Close() error
}

// Pusher is implemented by sources fed from outside the process.
type Pusher interface {
	Push(ctx context.Context, s Sample) error
}

// Options control the update cadence of a Stream.
type Options struct {
	// DesiredAccuracy drops fixes whose reported accuracy is worse than this
	// many meters. Zero accepts everything.
	DesiredAccuracy   float64
	MinInterval       time.Duration
	MinDistanceMeters float64
}
