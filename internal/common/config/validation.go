package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks the configuration against its struct tags.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	if cfg.Store.Backend == "redis" && cfg.Store.Port == 0 {
		return fmt.Errorf("store.port: required for the redis backend")
	}
	if cfg.Store.Backend == "mongo" && cfg.Store.URI == "" && cfg.Store.Port == 0 {
		return fmt.Errorf("store.port: required for the mongo backend without store.uri")
	}
	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("invalid configuration: %s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return fmt.Errorf("invalid configuration: %w", err)
}
