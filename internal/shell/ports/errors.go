package ports

import (
	"errors"
	"fmt"

	coreports "github.com/artpar/composeenv/internal/core/ports"
)

var (
	// ErrAllocationFailed is wrapped by every allocation failure.
	ErrAllocationFailed = errors.New("port allocation failed")

	ErrPortsExhausted = coreports.ErrNoAvailablePorts
	ErrUndeclaredPort = coreports.ErrUndeclaredPort
)

// AllocationError reports that a host port could not be reserved. It aborts
// environment startup.
type AllocationError struct {
	Service string
	Port    int
	Message string
	// Retryable is set when the failure may stem from another process holding
	// ports transiently, so a later attempt can succeed.
	Retryable bool
	Err       error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("allocate host port for %s:%d: %s", e.Service, e.Port, e.Message)
}

func (e *AllocationError) Unwrap() []error {
	return []error{ErrAllocationFailed, e.Err}
}

// NewAllocationError creates a new AllocationError.
func NewAllocationError(service string, port int, message string, retryable bool, err error) *AllocationError {
	return &AllocationError{
		Service:   service,
		Port:      port,
		Message:   message,
		Retryable: retryable,
		Err:       err,
	}
}
