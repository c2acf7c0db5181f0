package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if err := validateBackend(&cfg.Backend); err != nil {
		return err
	}

	for i, d := range cfg.Decorators {
		switch d.Type {
		case "sandbox":
			if s, _ := d.Options["base"].(string); s == "" {
				return fmt.Errorf("decorators[%d]: sandbox requires options.base", i)
			}
		case "encryption":
			if s, _ := d.Options["passphrase"].(string); s == "" {
				return fmt.Errorf("decorators[%d]: encryption requires options.passphrase", i)
			}
		}
	}

	names := make(map[string]bool)
	for i, u := range cfg.Server.Users {
		if names[u.Username] {
			return fmt.Errorf("server.users[%d]: duplicate username %q", i, u.Username)
		}
		names[u.Username] = true
		if (u.Password == "") == (u.PasswordHash == "") {
			return fmt.Errorf("server.users[%d]: exactly one of password and password_hash must be set", i)
		}
	}

	// The dial settings only matter when a remote server is configured.
	if cfg.Client.Dial.Address != "" {
		if err := validate.Struct(cfg.Client.Dial); err != nil {
			return formatValidationError(err)
		}
	}

	return nil
}

func validateBackend(cfg *BackendConfig) error {
	switch cfg.Type {
	case "relational":
		driver, _ := cfg.Relational["driver"].(string)
		switch driver {
		case "sqlite", "mysql", "postgres":
		default:
			return fmt.Errorf("backend.relational.driver: unsupported driver %q (want sqlite, mysql or postgres)", driver)
		}
		if dsn, _ := cfg.Relational["dsn"].(string); dsn == "" {
			return errors.New("backend.relational.dsn: required")
		}
	case "s3":
		if bucket, _ := cfg.S3["bucket"].(string); bucket == "" {
			return errors.New("backend.s3.bucket: required")
		}
		if region, _ := cfg.S3["region"].(string); region == "" {
			return errors.New("backend.s3.region: required")
		}
	case "badger":
		inMemory, _ := cfg.Badger["in_memory"].(bool)
		if path, _ := cfg.Badger["path"].(string); path == "" && !inMemory {
			return errors.New("backend.badger.path: required unless in_memory is set")
		}
	}
	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
