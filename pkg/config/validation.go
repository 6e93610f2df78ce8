package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags plus custom rules
// that cannot be expressed in tags.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	if cfg.Metrics.Enabled && cfg.Metrics.Port == int(cfg.Server.Port) {
		return fmt.Errorf("metrics: port %d collides with the server port", cfg.Metrics.Port)
	}

	if cfg.Limits.AcceptRate == 0 && cfg.Limits.AcceptBurst != 0 {
		return fmt.Errorf("limits: accept_burst requires accept_rate")
	}

	return nil
}

// formatValidationError turns validator errors into a readable message.
func formatValidationError(err error) error {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	for _, fieldErr := range validationErrors {
		return fmt.Errorf("field %s failed validation: %s (value: %v)",
			fieldErr.Namespace(), fieldErr.Tag(), fieldErr.Value())
	}
	return err
}
