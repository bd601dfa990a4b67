package discovery

import (
	"errors"
	"fmt"
)

var (
	ErrNotYetResolved = errors.New("service not yet resolved")
	ErrUnknownService = errors.New("service is not part of the environment")
	ErrUnknownPort    = errors.New("port is not declared for service")
	ErrFinalized      = errors.New("discovery table is finalized")
)

// NotYetResolvedError is returned by fail-fast reads of a service that has no
// entry yet. Once the table is finalized, missing services report ErrUnknownService.
type NotYetResolvedError struct {
	Service string
}

func (e *NotYetResolvedError) Error() string {
	return fmt.Sprintf("service %q not yet resolved", e.Service)
}

func (e *NotYetResolvedError) Unwrap() error {
	return ErrNotYetResolved
}
