package docker

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Container errors
	ErrContainerNotFound   = errors.New("container not found")
	ErrContainerNotRunning = errors.New("container is not running")

	// Compose errors
	ErrComposeFailed      = errors.New("docker compose command failed")
	ErrComposeUnavailable = errors.New("docker compose is not installed")

	// Connection errors
	ErrPortAlreadyAllocated = errors.New("port is already allocated")
	ErrConnectionFailed     = errors.New("docker connection failed")
	ErrTimeout              = errors.New("operation timed out")
)

// DockerError wraps errors with additional context.
type DockerError struct {
	Op      string // Operation that failed
	Entity  string // Entity type (project, container, service)
	ID      string // Entity ID if applicable
	Message string
	// Ports lists host ports the runtime reported as taken, if any.
	Ports []int
	Err   error
}

func (e *DockerError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %s", e.Op, e.Entity, e.ID, e.Message)
	}
	if e.Entity != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Entity, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *DockerError) Unwrap() error {
	return e.Err
}

// NewDockerError creates a new DockerError.
func NewDockerError(op, entity, id, message string, err error) *DockerError {
	return &DockerError{
		Op:      op,
		Entity:  entity,
		ID:      id,
		Message: message,
		Err:     err,
	}
}

// =============================================================================
// Port conflicts
// =============================================================================

var (
	portConflictPattern = regexp.MustCompile(`port is already allocated|address already in use|ports are not available`)
	// Matches "0.0.0.0:49153", "[::]:49153" and "127.0.0.1:49153" in bind failures
	boundAddressPattern = regexp.MustCompile(`(?:\d{1,3}(?:\.\d{1,3}){3}|\[[0-9a-fA-F:]*\]):(\d{1,5})`)
)

// IsPortConflict reports whether runtime output describes a host port that is
// already bound by someone else.
func IsPortConflict(output string) bool {
	return portConflictPattern.MatchString(output)
}

// ConflictingPorts extracts the host ports named in a bind failure.
func ConflictingPorts(output string) []int {
	var ports []int
	for _, m := range boundAddressPattern.FindAllStringSubmatch(output, -1) {
		port, err := strconv.Atoi(m[1])
		if err != nil || port < 1 || port > 65535 || slices.Contains(ports, port) {
			continue
		}
		ports = append(ports, port)
	}
	return ports
}

// PortsOf returns the conflicting host ports carried by err.
func PortsOf(err error) []int {
	var dockerErr *DockerError
	if errors.As(err, &dockerErr) {
		return slices.Clone(dockerErr.Ports)
	}
	return nil
}
