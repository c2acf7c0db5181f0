// Package config loads the fsfacade configuration and builds filesystem
// stacks, remote servers and clients from it.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/pheyse/FileSystemFacade-sub001/internal/transport"
)

// Config represents the complete fsfacade configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (FSFACADE_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
//
// Backend Configuration Pattern:
// Each backend defines its own configuration type. The Backend section
// carries one map per backend type and only the map matching Type is
// decoded, with mapstructure, into that backend's Config.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Backend selects and configures the storage backend
	Backend BackendConfig `mapstructure:"backend" yaml:"backend"`

	// Decorators are applied in order, innermost first
	Decorators []DecoratorConfig `mapstructure:"decorators" yaml:"decorators" validate:"dive"`

	// Server configures the remote server (fsfacade serve)
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Client configures the connection of the CLI to a remote server
	Client ClientConfig `mapstructure:"client" yaml:"client"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// BackendConfig specifies the storage backend.
//
// The Type field determines which backend is built; only the matching
// type-specific section is used.
type BackendConfig struct {
	// Type is one of memory, relational, badger, s3, host
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory relational badger s3 host"`

	Memory     map[string]any `mapstructure:"memory" yaml:"memory,omitempty"`
	Relational map[string]any `mapstructure:"relational" yaml:"relational,omitempty"`
	Badger     map[string]any `mapstructure:"badger" yaml:"badger,omitempty"`
	S3         map[string]any `mapstructure:"s3" yaml:"s3,omitempty"`
	Host       map[string]any `mapstructure:"host" yaml:"host,omitempty"`
}

// DecoratorConfig is one layer of the stack.
type DecoratorConfig struct {
	// Type is one of sandbox, encryption, history, metrics
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=sandbox encryption history metrics"`

	// Options are decoded into the decorator's configuration
	Options map[string]any `mapstructure:"options" yaml:"options,omitempty"`
}

// ServerConfig configures the remote server.
type ServerConfig struct {
	// Transport holds the socket settings
	Transport transport.ServerConfig `mapstructure:"transport" yaml:"transport"`

	// Application and Tenant name the namespace the stack is served as
	Application string `mapstructure:"application" yaml:"application" validate:"required"`
	Tenant      string `mapstructure:"tenant" yaml:"tenant" validate:"required"`

	// Users may authenticate against the served stack
	Users []UserConfig `mapstructure:"users" yaml:"users" validate:"dive"`

	// MaxFrameSize bounds accepted requests in bytes
	MaxFrameSize int64 `mapstructure:"max_frame_size" yaml:"max_frame_size" validate:"min=0"`
}

// UserConfig is one remote user. Exactly one of Password and
// PasswordHash must be set; PasswordHash is a bcrypt hash.
type UserConfig struct {
	Username     string `mapstructure:"username" yaml:"username" validate:"required"`
	Password     string `mapstructure:"password" yaml:"password,omitempty"`
	PasswordHash string `mapstructure:"password_hash" yaml:"password_hash,omitempty"`
}

// ClientConfig configures the CLI's remote connection. With an empty
// Dial.Address the CLI operates on the locally configured stack instead.
type ClientConfig struct {
	Dial        transport.DialConfig `mapstructure:"dial" yaml:"dial" validate:"-"`
	Application string               `mapstructure:"application" yaml:"application"`
	Tenant      string               `mapstructure:"tenant" yaml:"tenant"`
	Username    string               `mapstructure:"username" yaml:"username"`
	Password    string               `mapstructure:"password" yaml:"password,omitempty"`
	Compress    bool                 `mapstructure:"compress" yaml:"compress"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled turns on metrics collection and the HTTP endpoint
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Listen is the host:port of the metrics endpoint
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns the loaded and validated configuration.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// setupViper configures environment variables and config file lookup.
// Environment variables use the FSFACADE_ prefix and underscores, e.g.
// FSFACADE_LOGGING_LEVEL=DEBUG.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("FSFACADE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only affects keys viper already knows about.
	for _, key := range []string{
		"logging.level", "logging.format", "logging.output",
		"backend.type",
		"server.application", "server.tenant", "server.transport.listen",
		"client.dial.address", "client.username", "client.password",
		"metrics.enabled", "metrics.listen",
	} {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists. A missing
// file is not an error: defaults and environment variables apply.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns $XDG_CONFIG_HOME/fsfacade, ~/.config/fsfacade, or
// the current directory when no home directory is known.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "fsfacade")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "fsfacade")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}
