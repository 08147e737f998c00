package config_test

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firelinehq/incidentd/pkg/config"
)

// Load must boot with safe defaults when nothing is set.
func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "incidentd.db", cfg.DatabaseDSN)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("INCIDENTD_ADDR", ":9000")
	t.Setenv("INCIDENTD_LOG_LEVEL", "debug")
	t.Setenv("INCIDENTD_PACK_DIR", "/etc/incidentd/packs")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, "/etc/incidentd/packs", cfg.PackDir)
}
