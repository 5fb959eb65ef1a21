// Package config loads process-level settings for the simulator from the
// environment, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/signalsfoundry/cgs-simulator/internal/logging"
	"github.com/signalsfoundry/cgs-simulator/internal/observability"
	"github.com/signalsfoundry/cgs-simulator/timectrl"
)

// Config holds everything that is not part of a scenario.
type Config struct {
	Log     logging.Config
	Tracing observability.TracingConfig

	// MetricsAddr serves /metrics and /feed when set.
	MetricsAddr string

	// JournalPath receives the outcome journal; ".zst" compresses it.
	JournalPath string
	// SQLitePath receives outcome events when set.
	SQLitePath string

	Mode  timectrl.Mode
	Speed float64

	// ShutdownTimeout bounds flushing sinks and exporters on exit.
	ShutdownTimeout time.Duration
}

// Load reads envFile (if it exists) into the process environment without
// overriding variables that are already set, then builds the config.
// An empty envFile means ".env".
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return FromEnv()
}

// FromEnv builds the config from environment variables only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Log: logging.Config{
			Level:  os.Getenv("LOG_LEVEL"),
			Format: os.Getenv("LOG_FORMAT"),
		},
		Tracing:     observability.TracingConfigFromEnv(),
		MetricsAddr: os.Getenv("CGS_METRICS_ADDR"),
		JournalPath: os.Getenv("CGS_JOURNAL"),
		SQLitePath:  os.Getenv("CGS_SQLITE"),
	}

	switch strings.ToLower(os.Getenv("CGS_MODE")) {
	case "", "accelerated":
		cfg.Mode = timectrl.Accelerated
	case "realtime", "real-time":
		cfg.Mode = timectrl.RealTime
	default:
		return nil, fmt.Errorf("CGS_MODE: unknown mode %q", os.Getenv("CGS_MODE"))
	}

	if raw := os.Getenv("CGS_SPEED"); raw != "" {
		speed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("CGS_SPEED: %w", err)
		}
		cfg.Speed = speed
	}
	if raw := os.Getenv("CGS_SHUTDOWN_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("CGS_SHUTDOWN_TIMEOUT: %w", err)
		}
		cfg.ShutdownTimeout = d
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Speed == 0 {
		c.Speed = 1
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.Log.Format)
	}
	if c.Speed <= 0 {
		return errors.New("CGS_SPEED must be positive")
	}
	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "stdout", "otlp", "otlpgrpc":
		default:
			return fmt.Errorf("CGS_TRACING_EXPORTER: unsupported exporter %q", c.Tracing.Exporter)
		}
	}
	if c.JournalPath != "" && c.JournalPath == c.SQLitePath {
		return errors.New("journal and sqlite outputs must differ")
	}
	return nil
}
