package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pheyse/FileSystemFacade-sub001/internal/transport"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return configPath
}

func TestLoad_DefaultConfig(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
logging:
  level: "info"

backend:
  type: "memory"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected normalized level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Server.Transport.ShutdownTimeout != 10*time.Second {
		t.Errorf("Expected default shutdown_timeout 10s, got %v", cfg.Server.Transport.ShutdownTimeout)
	}
	if cfg.Server.Transport.Listen != ":7070" {
		t.Errorf("Expected default listen ':7070', got %q", cfg.Server.Transport.Listen)
	}
	if cfg.Client.Dial.Address != "" {
		t.Errorf("Expected no default client address, got %q", cfg.Client.Dial.Address)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	nonExistentPath := filepath.Join(t.TempDir(), "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error with missing config file, got: %v", err)
	}

	if cfg.Backend.Type != "memory" {
		t.Errorf("Expected default backend type 'memory', got %q", cfg.Backend.Type)
	}
	if len(cfg.Decorators) != 0 {
		t.Errorf("Expected no decorators, got %d", len(cfg.Decorators))
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "invalid.yaml", `
logging:
  level: INFO
  invalid yaml here [[[
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error with invalid YAML, got nil")
	}
}

func TestLoad_InvalidBackendType(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
backend:
  type: "floppy"
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected validation error for unknown backend type")
	}
}

func TestLoad_Stack(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
backend:
  type: relational
  relational:
    driver: sqlite
    dsn: "file:stack?mode=memory&cache=shared"
    auto_create: true
    tenant: acme

decorators:
  - type: history
    options:
      versioning: true
      max_retained: "3"
  - type: metrics

server:
  transport:
    listen: "127.0.0.1:0"
    read_timeout: 5s
    rate_limit: 10
  users:
    - username: alice
      password: secret
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Backend.Relational["tenant"] != "acme" {
		t.Errorf("Expected relational tenant 'acme', got %v", cfg.Backend.Relational["tenant"])
	}
	if len(cfg.Decorators) != 2 || cfg.Decorators[0].Type != "history" || cfg.Decorators[1].Type != "metrics" {
		t.Fatalf("Unexpected decorators: %+v", cfg.Decorators)
	}
	if cfg.Server.Transport.ReadTimeout != 5*time.Second {
		t.Errorf("Expected read_timeout 5s, got %v", cfg.Server.Transport.ReadTimeout)
	}
	if cfg.Server.Transport.RateLimit != 10 {
		t.Errorf("Expected rate_limit 10, got %v", cfg.Server.Transport.RateLimit)
	}
	if len(cfg.Server.Users) != 1 || cfg.Server.Users[0].Username != "alice" {
		t.Errorf("Unexpected users: %+v", cfg.Server.Users)
	}
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Output != "stderr" {
		t.Errorf("Expected default log output 'stderr', got %q", cfg.Logging.Output)
	}
	if cfg.Backend.Type != "memory" {
		t.Errorf("Expected default backend 'memory', got %q", cfg.Backend.Type)
	}
	if cfg.Backend.Relational["driver"] != "sqlite" {
		t.Errorf("Expected default relational driver 'sqlite', got %v", cfg.Backend.Relational["driver"])
	}
	if len(cfg.Decorators) != 1 || cfg.Decorators[0].Type != "history" {
		t.Errorf("Expected a default history decorator, got %+v", cfg.Decorators)
	}
	if cfg.Metrics.Listen != ":9090" {
		t.Errorf("Expected default metrics listen ':9090', got %q", cfg.Metrics.Listen)
	}
	if cfg.Client.Dial.MaxRetries != 3 {
		t.Errorf("Expected default dial retries 3, got %d", cfg.Client.Dial.MaxRetries)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{Level: "debug", Format: "json", Output: "/var/log/fsfacade.log"},
		Backend: BackendConfig{
			Type:   "badger",
			Badger: map[string]any{"path": "/data/badger"},
		},
		Server: ServerConfig{Transport: transport.ServerConfig{ShutdownTimeout: time.Minute}},
	}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" || cfg.Logging.Format != "json" || cfg.Logging.Output != "/var/log/fsfacade.log" {
		t.Errorf("Logging values were not preserved: %+v", cfg.Logging)
	}
	if cfg.Backend.Badger["path"] != "/data/badger" {
		t.Errorf("Expected badger path preserved, got %v", cfg.Backend.Badger["path"])
	}
	if cfg.Server.Transport.ShutdownTimeout != time.Minute {
		t.Errorf("Expected shutdown timeout preserved, got %v", cfg.Server.Transport.ShutdownTimeout)
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	path := GetDefaultConfigPath()

	if !filepath.IsAbs(path) {
		t.Errorf("Expected absolute path, got %q", path)
	}
	if filepath.Base(path) != "config.yaml" {
		t.Errorf("Expected filename 'config.yaml', got %q", filepath.Base(path))
	}
	if filepath.Base(GetConfigDir()) != "fsfacade" {
		t.Errorf("Expected directory name 'fsfacade', got %q", filepath.Base(GetConfigDir()))
	}
}

func TestConfigExists(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if ConfigExists() {
		t.Fatal("Expected no config in a fresh config dir")
	}
	if _, err := InitConfig(false); err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}
	if !ConfigExists() {
		t.Fatal("Expected config to exist after InitConfig")
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("FSFACADE_LOGGING_LEVEL", "ERROR")
	t.Setenv("FSFACADE_CLIENT_DIAL_ADDRESS", "files.example.com:7070")

	configPath := writeConfig(t, "config.yaml", `
logging:
  level: "INFO"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected level 'ERROR' from env var, got %q", cfg.Logging.Level)
	}
	if cfg.Client.Dial.Address != "files.example.com:7070" {
		t.Errorf("Expected address from env var, got %q", cfg.Client.Dial.Address)
	}
}
