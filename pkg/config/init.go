package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const configHeader = `# fsfacade Configuration File
#
# Values may be overridden with FSFACADE_* environment variables, for
# example FSFACADE_LOGGING_LEVEL=DEBUG or FSFACADE_BACKEND_TYPE=badger.
#
`

// sectionComments are written above the top-level keys of a generated file.
var sectionComments = map[string]string{
	"logging":    "# Logging: level (DEBUG, INFO, WARN, ERROR), format (text, json), output (stdout, stderr, or a file path)",
	"backend":    "# Storage backend: type selects one of memory, relational, badger, s3, host;\n# only the section matching the type is used",
	"decorators": "# Decorators wrap the backend in order, innermost first: sandbox, encryption, history, metrics",
	"server":     "# Remote server (fsfacade serve): socket settings, served namespace and users",
	"client":     "# Remote client: set dial.address to run CLI commands against a server",
	"metrics":    "# Prometheus metrics endpoint",
}

// GetConfigDir returns the directory holding the default config file.
func GetConfigDir() string {
	return getConfigDir()
}

// InitConfig writes a default configuration file to the default location
// and returns its path. An existing file is only replaced when force is set.
func InitConfig(force bool) (string, error) {
	configPath := GetDefaultConfigPath()
	if err := InitConfigToPath(configPath, force); err != nil {
		return "", err
	}
	return configPath, nil
}

// InitConfigToPath writes a default configuration file to configPath.
func InitConfigToPath(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", configPath)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	// The file may hold passwords.
	if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// generateYAMLWithComments renders cfg as YAML with a header and a comment
// above every top-level section.
func generateYAMLWithComments(cfg *Config) (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}

	var out strings.Builder
	out.WriteString(configHeader)
	for _, line := range strings.SplitAfter(buf.String(), "\n") {
		if line != "" && line[0] != ' ' && line[0] != '-' {
			key, _, _ := strings.Cut(line, ":")
			if comment, ok := sectionComments[key]; ok {
				out.WriteString("\n" + comment + "\n")
			}
		}
		out.WriteString(line)
	}
	return out.String(), nil
}
