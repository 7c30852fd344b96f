package tour

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/playperu/walktour/internal/geo"
)

//go:embed tour.schema.json
var schemaJSON string

var schema = jsonschema.MustCompileString("tour.schema.json", schemaJSON)

// File is the on-disk layout of tour.json.
type File struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	StartPoint  *geo.Point `json:"startPoint"`
	Stops       []FileStop `json:"stops"`
}

type FileStop struct {
	ID            int      `json:"id"`
	Name          string   `json:"name"`
	Latitude      float64  `json:"latitude"`
	Longitude     float64  `json:"longitude"`
	TriggerRadius *float64 `json:"triggerRadius"`
	AudioFile     string   `json:"audioFile"`
	AudioDuration int      `json:"audioDuration"`
	Script        string   `json:"script"`
}

// Parse decodes and validates a tour.json document. folder names the tour
// when the document carries no id; stops without a radius get defaultRadius.
func Parse(folder string, data []byte, defaultRadius float64) (Tour, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Tour{}, &ParseError{Tour: folder, Err: fmt.Errorf("decoding json: %w", err)}
	}
	if err := schema.Validate(raw); err != nil {
		return Tour{}, &ParseError{Tour: folder, Err: err}
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return Tour{}, &ParseError{Tour: folder, Err: fmt.Errorf("decoding tour: %w", err)}
	}

	t := Tour{
		ID:          f.ID,
		Name:        f.Name,
		Description: f.Description,
		Stops:       make([]Stop, 0, len(f.Stops)),
	}
	if t.ID == "" {
		t.ID = folder
	}

	for _, fs := range f.Stops {
		s := Stop{
			ID:                fs.ID,
			Name:              fs.Name,
			Latitude:          fs.Latitude,
			Longitude:         fs.Longitude,
			TriggerRadius:     defaultRadius,
			AudioRef:          fs.AudioFile,
			EstimatedDuration: fs.AudioDuration,
			Script:            fs.Script,
		}
		if fs.TriggerRadius != nil {
			s.TriggerRadius = *fs.TriggerRadius
		} else {
			s.RadiusDefaulted = true
		}
		if s.AudioRef == "" {
			s.AudioRef = fmt.Sprintf("audio/%02d-stop.mp3", fs.ID)
		}
		t.Stops = append(t.Stops, s)
	}

	switch {
	case f.StartPoint != nil:
		t.StartPoint = *f.StartPoint
	case len(t.Stops) > 0:
		t.StartPoint = t.Stops[0].Point()
	}

	if err := t.Validate(); err != nil {
		return Tour{}, &ParseError{Tour: t.ID, Err: err}
	}
	return t, nil
}

// LoadDir reads <dir>/tour.json.
func LoadDir(dir string, defaultRadius float64) (Tour, []byte, error) {
	data, err := os.ReadFile(filepath.Join(dir, "tour.json"))
	if os.IsNotExist(err) {
		return Tour{}, nil, ErrNotFound
	}
	if err != nil {
		return Tour{}, nil, fmt.Errorf("reading tour.json: %w", err)
	}
	t, err := Parse(filepath.Base(dir), data, defaultRadius)
	if err != nil {
		return Tour{}, nil, err
	}
	return t, data, nil
}
