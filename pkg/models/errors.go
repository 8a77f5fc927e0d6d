package models

import (
	"errors"
	"fmt"
)

// ErrInvalidConfiguration is wrapped by every *ConfigurationError.
var ErrInvalidConfiguration = errors.New("invalid workflow configuration")

// ConfigurationError rejects a malformed definition when it is loaded or saved.
type ConfigurationError struct {
	Field   string // Path of the offending field, e.g. "actions[2]"
	Message string
}

func newConfigurationError(field, message string) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: message}
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrInvalidConfiguration
}

// IsConfigurationError checks if an error rejects a definition's configuration.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration)
}
