// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config holds server configuration.
type Config struct {
	// Addr is the listen address for the HTTP API.
	Addr string `env:"INCIDENTD_ADDR" envDefault:":8080"`
	// DatabaseDSN is the sqlite database path or DSN.
	DatabaseDSN string `env:"INCIDENTD_DB" envDefault:"incidentd.db"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"INCIDENTD_LOG_LEVEL" envDefault:"info"`
	// PackDir, when set, seeds rule packs from *.json/*.yaml files at
	// startup.
	PackDir string `env:"INCIDENTD_PACK_DIR"`
	// OTLPEndpoint, when set, enables OpenTelemetry tracing and metrics
	// exported over OTLP gRPC (e.g. "localhost:4317").
	OTLPEndpoint string `env:"INCIDENTD_OTLP_ENDPOINT"`
	// OTLPInsecure disables TLS on the OTLP connection (dev only).
	OTLPInsecure bool `env:"INCIDENTD_OTLP_INSECURE" envDefault:"false"`
}

// Load parses configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// SlogLevel maps LogLevel onto a slog.Level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
