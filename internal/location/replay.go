package location

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/twpayne/go-gpx"
)

// ReplaySource plays back a recorded walk. Gaps between fixes are honoured,
// divided by Speed; a Speed of zero or less replays without delay.
type ReplaySource struct {
	samples []Sample
	speed   float64

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewReplaySource(samples []Sample, speed float64) *ReplaySource {
	return &ReplaySource{samples: samples, speed: speed}
}

// ReadGPX loads every track point (and, failing that, every waypoint) from a
// GPX document.
func ReadGPX(r io.Reader) ([]Sample, error) {
	doc, err := gpx.Read(r)
	if err != nil {
		return nil, fmt.Errorf("reading gpx: %w", err)
	}

	var samples []Sample
	for _, trk := range doc.Trk {
		for _, seg := range trk.TrkSeg {
			for _, pt := range seg.TrkPt {
				samples = append(samples, Sample{Latitude: pt.Lat, Longitude: pt.Lon, Timestamp: pt.Time})
			}
		}
	}
	if len(samples) == 0 {
		for _, pt := range doc.Wpt {
			samples = append(samples, Sample{Latitude: pt.Lat, Longitude: pt.Lon, Timestamp: pt.Time})
		}
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("gpx has no points")
	}
	return samples, nil
}

func (r *ReplaySource) RequestPermission(context.Context) (Grant, error) {
	return GrantGranted, nil
}

func (r *ReplaySource) Open(ctx context.Context) (<-chan Sample, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	ch := make(chan Sample)
	go r.play(ctx, ch)
	return ch, nil
}

func (r *ReplaySource) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	return nil
}

func (r *ReplaySource) play(ctx context.Context, ch chan<- Sample) {
	defer close(ch)

	for i, s := range r.samples {
		if i > 0 && r.speed > 0 {
			gap := s.Timestamp.Sub(r.samples[i-1].Timestamp)
			if gap > 0 {
				t := time.NewTimer(time.Duration(float64(gap) / r.speed))
				select {
				case <-ctx.Done():
					t.Stop()
					return
				case <-t.C:
				}
			}
		}
		if s.Timestamp.IsZero() {
			s.Timestamp = time.Now()
		}
		select {
		case ch <- s:
		case <-ctx.Done():
			return
		}
	}
}
