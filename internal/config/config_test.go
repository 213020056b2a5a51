package config_test

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/odoo-poller/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "data/poller.db", cfg.DBPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "dev", cfg.AppEnv)
	assert.True(t, cfg.IsDev())
	assert.False(t, cfg.IsProd())
	assert.False(t, cfg.OpsEnabled())
	assert.Equal(t, "30s", cfg.WebhookTimeout.String())
	assert.Equal(t, "30s", cfg.ErpTimeout.String())
	assert.Equal(t, "5s", cfg.ShutdownTimeout.String())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("POLLER_APP_ENV", "prod")
	t.Setenv("POLLER_DB_PATH", "/var/lib/poller/poller.db")
	t.Setenv("POLLER_OPS_ADDR", ":9090")
	t.Setenv("POLLER_WEBHOOK_TIMEOUT", "15s")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProd())
	assert.Equal(t, "/var/lib/poller/poller.db", cfg.DBPath)
	assert.True(t, cfg.OpsEnabled())
	assert.Equal(t, "15s", cfg.WebhookTimeout.String())
}

func TestSlogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		cfg := config.Config{LogLevel: in}
		assert.Equal(t, want, cfg.SlogLevel(), "level %q", in)
	}
}

func TestLoad_BadDuration(t *testing.T) {
	t.Setenv("POLLER_ERP_TIMEOUT", "not-a-duration")
	_, err := config.Load()
	require.Error(t, err)
}
