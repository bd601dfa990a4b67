// Package compose parses compose definitions and rewrites them into the
// effective definition a test environment launches.
// This is part of the Functional Core - host port reservation and environment
// resolution are injected by the caller.
package compose

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Input validation errors
	ErrEmptyInput = errors.New("compose definition is empty")

	// YAML parsing errors
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// Compose structure errors
	ErrNoServices         = errors.New("compose definition must define at least one service")
	ErrUnknownService     = errors.New("service is not defined in the compose definition")
	ErrCircularDependency = errors.New("circular dependency detected")

	// Transformation errors
	ErrPortReservation     = errors.New("host port reservation failed")
	ErrEnvironmentOverride = errors.New("environment override failed")
)

// ParseError wraps errors with context about where parsing failed.
type ParseError struct {
	Field   string // e.g., "services.web.ports[0]"
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError creates a new ParseError.
func NewParseError(field, message string, err error) *ParseError {
	return &ParseError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// TransformError reports which transformation step failed for which service.
type TransformError struct {
	Step    string // "ports", "environment", "ordering"
	Service string
	Err     error
}

func (e *TransformError) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("transform %s: service %s: %v", e.Step, e.Service, e.Err)
	}
	return fmt.Sprintf("transform %s: %v", e.Step, e.Err)
}

func (e *TransformError) Unwrap() error {
	return e.Err
}
