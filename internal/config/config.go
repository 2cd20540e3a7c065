// Package config loads hostctl defaults from HOSTCTL_* environment
// variables. Command-line flags override these values.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config holds environment-driven defaults for hostctl.
type Config struct {
	// MaxIterations bounds each dispatch loop.
	MaxIterations int `env:"HOSTCTL_MAX_ITERATIONS" envDefault:"100"`

	// DB is the dispatch journal path. Empty disables journaling.
	DB string `env:"HOSTCTL_DB"`

	LogLevel string `env:"HOSTCTL_LOG_LEVEL" envDefault:"info"`

	// SeedPrefix overrides the scenario seed prefix when set.
	SeedPrefix string `env:"HOSTCTL_SEED_PREFIX"`
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.MaxIterations < 1 {
		return Config{}, fmt.Errorf("HOSTCTL_MAX_ITERATIONS must be at least 1, got %d", cfg.MaxIterations)
	}
	if _, err := ParseLevel(cfg.LogLevel); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
