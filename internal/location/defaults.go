package location

import (
	"fmt"
	"os"
	"strconv"
	"sync"
)

const (
	SourcePush   = "push"
	SourceReplay = "replay"
)

var registerOnce sync.Once

// RegisterDefaults registers the built-in source kinds. Safe to call more
// than once.
//
//   - push:   fixes forwarded by the device; param "buffer" (default 16)
//   - replay: GPX playback; params "gpx" (file path) and "speed" (default 1)
func RegisterDefaults() {
	registerOnce.Do(func() {
		MustRegister(SourcePush, func(p Params) (Source, error) {
			buffer := 16
			if v, ok := p["buffer"]; ok {
				n, err := strconv.Atoi(v)
				if err != nil || n < 0 {
					return nil, fmt.Errorf("invalid buffer %q", v)
				}
				buffer = n
			}
			return NewPushSource(buffer), nil
		})

		MustRegister(SourceReplay, func(p Params) (Source, error) {
			path := p["gpx"]
			if path == "" {
				return nil, fmt.Errorf("replay source needs a gpx file")
			}
			speed := 1.0
			if v, ok := p["speed"]; ok {
				f, err := strconv.ParseFloat(v, 64)
				if err != nil {
					return nil, fmt.Errorf("invalid speed %q", v)
				}
				speed = f
			}

			f, err := os.Open(path)
			if err != nil {
				return nil, fmt.Errorf("opening gpx: %w", err)
			}
			defer f.Close()

			samples, err := ReadGPX(f)
			if err != nil {
				return nil, err
			}
			return NewReplaySource(samples, speed), nil
		})
	})
}
