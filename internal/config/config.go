// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv string `env:"POLLER_APP_ENV" envDefault:"dev"`
	// EncryptionKey is the base64 Fernet key protecting credentials at rest.
	EncryptionKey     string `env:"POLLER_ENCRYPTION_KEY"`
	DBPath            string `env:"POLLER_DB_PATH" envDefault:"data/poller.db"`
	LogLevel          string `env:"POLLER_LOG_LEVEL" envDefault:"info"`
	DefaultWebhookURL string `env:"POLLER_DEFAULT_WEBHOOK_URL"`
	// OpsAddr enables the read-only ops HTTP server when non-empty,
	// e.g. ":9090".
	OpsAddr         string        `env:"POLLER_OPS_ADDR"`
	OTLPEndpoint    string        `env:"POLLER_OTLP_ENDPOINT"`
	OTELServiceName string        `env:"POLLER_OTEL_SERVICE_NAME" envDefault:"odoo-poller"`
	WebhookTimeout  time.Duration `env:"POLLER_WEBHOOK_TIMEOUT" envDefault:"30s"`
	ErpTimeout      time.Duration `env:"POLLER_ERP_TIMEOUT" envDefault:"30s"`
	// ShutdownTimeout bounds the wait for in-flight poll loops on stop.
	ShutdownTimeout  time.Duration `env:"POLLER_SHUTDOWN_TIMEOUT" envDefault:"5s"`
	CORSAllowOrigins string        `env:"POLLER_CORS_ALLOW_ORIGINS" envDefault:"*"`
	RateLimitPerMin  int           `env:"POLLER_RATE_LIMIT_PER_MIN" envDefault:"60"`
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// SlogLevel maps the configured log level onto a slog.Level.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// OpsEnabled reports whether the ops HTTP server should be started.
func (c Config) OpsEnabled() bool { return c.OpsAddr != "" }
