// Package audio wraps a media player in a small play/pause/seek/speed state
// machine with a once-per-play-through completion signal.
package audio

import (
	"context"
	"time"
)

// Player opens media. Load may take a while (buffering, codec setup) and is
// always called off the caller's goroutine.
type Player interface {
	// Load opens uri. onEnd is called each time playback reaches the end
	// of the media.
	Load(ctx context.Context, uri string, onEnd func()) (Track, error)
}

// Track is one loaded media source.
type Track interface {
	Duration() time.Duration
	Position() time.Duration
	Play() error
	Pause() error
	Seek(pos time.Duration) error
	SetRate(rate float64) error
	Close() error
}
