package config

import (
	"strings"
	"time"

	"github.com/pheyse/FileSystemFacade-sub001/internal/transport"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Backend-specific defaults are handled by the backend implementations
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyBackendDefaults(&cfg.Backend)
	applyServerDefaults(&cfg.Server)
	applyClientDefaults(&cfg.Client)
	applyMetricsDefaults(&cfg.Metrics)

	for i := range cfg.Decorators {
		if cfg.Decorators[i].Options == nil {
			cfg.Decorators[i].Options = make(map[string]any)
		}
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

// applyBackendDefaults sets backend defaults. Defaults for every type are
// filled in so a generated sample config shows all options.
func applyBackendDefaults(cfg *BackendConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}

	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.Relational == nil {
		cfg.Relational = make(map[string]any)
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}
	if cfg.Host == nil {
		cfg.Host = make(map[string]any)
	}

	setDefault(cfg.Relational, "driver", "sqlite")
	setDefault(cfg.Relational, "dsn", "file:/tmp/fsfacade.db")
	setDefault(cfg.Relational, "auto_create", true)
	setDefault(cfg.Badger, "path", "/tmp/fsfacade-badger")
	setDefault(cfg.Host, "root", "/tmp/fsfacade-host")
}

func setDefault(m map[string]any, key string, value any) {
	if _, ok := m[key]; !ok {
		m[key] = value
	}
}

// applyServerDefaults sets server defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Application == "" {
		cfg.Application = "default"
	}
	if cfg.Tenant == "" {
		cfg.Tenant = "default"
	}
	applyTransportDefaults(&cfg.Transport)
}

func applyTransportDefaults(cfg *transport.ServerConfig) {
	if cfg.Network == "" {
		cfg.Network = "tcp"
	}
	if cfg.Listen == "" {
		cfg.Listen = ":7070"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
}

// applyClientDefaults sets client defaults. Address stays empty: without
// it the CLI works on the local stack.
func applyClientDefaults(cfg *ClientConfig) {
	if cfg.Dial.Network == "" {
		cfg.Dial.Network = "tcp"
	}
	if cfg.Dial.DialTimeout == 0 {
		cfg.Dial.DialTimeout = 5 * time.Second
	}
	if cfg.Dial.MaxRetries == 0 {
		cfg.Dial.MaxRetries = 3
	}
	if cfg.Application == "" {
		cfg.Application = "default"
	}
	if cfg.Tenant == "" {
		cfg.Tenant = "default"
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Listen == "" {
		cfg.Listen = ":9090"
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Decorators: []DecoratorConfig{
			{
				Type: "history",
				Options: map[string]any{
					"versioning":   true,
					"history":      false,
					"max_retained": 10,
				},
			},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}
