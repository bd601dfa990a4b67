package environment

import (
	"errors"
	"fmt"

	"github.com/artpar/composeenv/internal/core/lifecycle"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	ErrLaunchFailed   = errors.New("environment launch failed")
	ErrTeardownFailed = errors.New("environment teardown failed")
	ErrInvalidState   = lifecycle.ErrInvalidTransition
	ErrNoRuntime      = errors.New("no container runtime configured")
)

// LaunchError reports that the runtime could not bring the project up.
type LaunchError struct {
	Project  string
	Attempts int
	Err      error
}

func (e *LaunchError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("launch %s failed after %d attempts: %v", e.Project, e.Attempts, e.Err)
	}
	return fmt.Sprintf("launch %s failed: %v", e.Project, e.Err)
}

func (e *LaunchError) Unwrap() []error {
	return []error{ErrLaunchFailed, e.Err}
}

// NewLaunchError creates a new LaunchError.
func NewLaunchError(project string, attempts int, err error) *LaunchError {
	return &LaunchError{Project: project, Attempts: attempts, Err: err}
}

// TeardownError reports a failed teardown. It never masks test results:
// callers log it and carry on.
type TeardownError struct {
	Project string
	Err     error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("teardown %s failed: %v", e.Project, e.Err)
}

func (e *TeardownError) Unwrap() []error {
	return []error{ErrTeardownFailed, e.Err}
}

// NewTeardownError creates a new TeardownError.
func NewTeardownError(project string, err error) *TeardownError {
	return &TeardownError{Project: project, Err: err}
}
