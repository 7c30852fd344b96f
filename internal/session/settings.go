package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/playperu/walktour/internal/kv"
)

const SettingsKey = "settings"

var ErrInvalidSettings = errors.New("invalid settings")

// Settings are the user preferences that shape session behaviour.
type Settings struct {
	TriggerRadiusMeters float64 `json:"triggerRadiusMeters"`
	PlaybackSpeed       float64 `json:"playbackSpeed"`
	AutoPlay            bool    `json:"autoPlay"`
	AutoAdvance         bool    `json:"autoAdvance"`
	UseMetric           bool    `json:"useMetric"`
}

func (s Settings) Validate() error {
	if s.TriggerRadiusMeters <= 0 {
		return fmt.Errorf("%w: trigger radius must be positive", ErrInvalidSettings)
	}
	if s.PlaybackSpeed < 0.5 || s.PlaybackSpeed > 3 {
		return fmt.Errorf("%w: playback speed must be between 0.5 and 3", ErrInvalidSettings)
	}
	return nil
}

// LoadSettings returns the stored settings, or defaults when none were saved.
func LoadSettings(ctx context.Context, store kv.Store, defaults Settings) (Settings, error) {
	s := defaults
	err := store.Get(ctx, SettingsKey, &s)
	if errors.Is(err, kv.ErrNotFound) {
		return defaults, nil
	}
	if err != nil {
		return defaults, fmt.Errorf("loading settings: %w", err)
	}
	if s.Validate() != nil {
		return defaults, nil
	}
	return s, nil
}

func SaveSettings(ctx context.Context, store kv.Store, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := store.Set(ctx, SettingsKey, s); err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	return nil
}
