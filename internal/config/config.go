package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/playperu/walktour/internal/location"
	"github.com/playperu/walktour/internal/session"
)

type Config struct {
	HTTPAddr   string     `env:"HTTP_ADDR" envDefault:":8080"`
	DBPath     string     `env:"DB_PATH" envDefault:"data/walktour.db"`
	ToursDir   string     `env:"TOURS_DIR" envDefault:"tours"`
	LogLevel   slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	WatchTours bool       `env:"WATCH_TOURS" envDefault:"true"`

	TriggerRadius float64 `env:"TRIGGER_RADIUS" envDefault:"25"`
	PlaybackSpeed float64 `env:"PLAYBACK_SPEED" envDefault:"1"`
	AutoPlay      bool    `env:"AUTO_PLAY" envDefault:"true"`
	AutoAdvance   bool    `env:"AUTO_ADVANCE" envDefault:"false"`
	UseMetric     bool    `env:"USE_METRIC" envDefault:"true"`

	LocationMinInterval     time.Duration `env:"LOCATION_MIN_INTERVAL" envDefault:"5s"`
	LocationMinDistance     float64       `env:"LOCATION_MIN_DISTANCE" envDefault:"10"`
	LocationDesiredAccuracy float64       `env:"LOCATION_DESIRED_ACCURACY" envDefault:"50"`

	AudioFallbackDuration time.Duration `env:"AUDIO_FALLBACK_DURATION" envDefault:"3m"`

	AdminUser         string `env:"ADMIN_USER" envDefault:"admin"`
	AdminPasswordHash string `env:"ADMIN_PASSWORD_HASH"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.Settings().Validate(); err != nil {
		return nil, fmt.Errorf("validating defaults: %w", err)
	}
	return &cfg, nil
}

// Settings returns the default user settings.
func (c *Config) Settings() session.Settings {
	return session.Settings{
		TriggerRadiusMeters: c.TriggerRadius,
		PlaybackSpeed:       c.PlaybackSpeed,
		AutoPlay:            c.AutoPlay,
		AutoAdvance:         c.AutoAdvance,
		UseMetric:           c.UseMetric,
	}
}

func (c *Config) Location() location.Options {
	return location.Options{
		DesiredAccuracy:   c.LocationDesiredAccuracy,
		MinInterval:       c.LocationMinInterval,
		MinDistanceMeters: c.LocationMinDistance,
	}
}
