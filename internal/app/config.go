package app

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/chat-relay/chat-relay/internal/observability"
	"github.com/chat-relay/chat-relay/internal/registry"
	"github.com/chat-relay/chat-relay/internal/relay"
	"github.com/chat-relay/chat-relay/internal/upstream"
)

// Config is the complete runtime configuration of the relay.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Upstream UpstreamConfig `koanf:"upstream"`
	Registry RegistryConfig `koanf:"registry"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Log      LogConfig      `koanf:"log"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Listen            string        `koanf:"listen" validate:"required,hostname_port"`
	MaxRequestBytes   int64         `koanf:"max_request_bytes" validate:"gt=0"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout" validate:"gt=0s"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout" validate:"gt=0s"`
}

// UpstreamConfig points at the AI gateway chat requests are relayed to.
type UpstreamConfig struct {
	BaseURL      string `koanf:"base_url" validate:"required,url"`
	DefaultModel string `koanf:"default_model" validate:"required"`
}

// RegistryConfig points at the model catalog. A zero CacheTTL disables caching.
type RegistryConfig struct {
	URL      string        `koanf:"url" validate:"required,url"`
	CacheTTL time.Duration `koanf:"cache_ttl" validate:"gte=0s"`
	Timeout  time.Duration `koanf:"timeout" validate:"gt=0s"`
}

type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path" validate:"omitempty,startswith=/"`
}

// LogConfig selects level, stdout format and optional OpenTelemetry export.
type LogConfig struct {
	Level    string `koanf:"level" validate:"required"`
	Format   string `koanf:"format" validate:"oneof=text json"`
	Exporter string `koanf:"exporter" validate:"oneof=none stdout otlp-http otlp-grpc"`
}

// Defaults returns the default configuration as flat koanf keys. Durations are
// strings so they read the same way as values from files and the environment.
func Defaults() map[string]any {
	return map[string]any{
		"server.listen":              "0.0.0.0:8000",
		"server.max_request_bytes":   1 << 20,
		"server.read_header_timeout": "10s",
		"server.shutdown_timeout":    "5s",
		"upstream.base_url":          upstream.DefaultBaseURL,
		"upstream.default_model":     relay.DefaultModel,
		"registry.url":               registry.DefaultURL,
		"registry.cache_ttl":         "1h",
		"registry.timeout":           "30s",
		"metrics.enabled":            true,
		"metrics.path":               "/metrics",
		"log.level":                  "info",
		"log.format":                 "text",
		"log.exporter":               observability.ExporterNone,
	}
}

// Validate checks the configuration and reports every invalid field at once.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var validationErrs validator.ValidationErrors
		if !errors.As(err, &validationErrs) {
			return err
		}

		msgs := make([]string, 0, len(validationErrs))
		for _, fe := range validationErrs {
			msgs = append(msgs, fmt.Sprintf("%s: failed %q validation (got %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
		return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
	}

	if _, err := c.Log.Options(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Options converts the log settings for observability.Instrument.
func (c LogConfig) Options() (observability.Options, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return observability.Options{}, fmt.Errorf("log level: %w", err)
	}

	return observability.Options{
		Level:    level,
		Format:   c.Format,
		Exporter: c.Exporter,
	}, nil
}
