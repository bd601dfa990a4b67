// Package descriptor defines the declarative test environment configuration.
// This is part of the Functional Core - validation is pure with no I/O.
package descriptor

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrInvalidDescriptor is wrapped by every descriptor validation failure.
	ErrInvalidDescriptor = errors.New("invalid environment descriptor")

	// Identity errors
	ErrMissingProjectName = errors.New("project name is required")
	ErrMissingComposeFile = errors.New("compose file name is required")

	// Port errors
	ErrInvalidPort   = errors.New("invalid port")
	ErrDuplicatePort = errors.New("duplicate declared port")
	ErrInvalidRange  = errors.New("invalid port range")

	// Policy errors
	ErrInvalidTimeout      = errors.New("timeout must be positive")
	ErrConflictingExclude  = errors.New("service is both configured and excluded")
	ErrConflictingModes    = errors.New("external compose and existing environment reuse are mutually exclusive")
	ErrInvalidMarkerPolicy = errors.New("unknown marker order policy")
	ErrEmptyMarker         = errors.New("readiness marker cannot be empty")
)

// ConfigError reports a malformed descriptor. It is always surfaced before any
// container is launched.
type ConfigError struct {
	Field   string // e.g., "ports.api[0]"
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}

func (e *ConfigError) Unwrap() []error {
	return []error{ErrInvalidDescriptor, e.Err}
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string, err error) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}
