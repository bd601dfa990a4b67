// Package docker talks to the container runtime: the docker compose CLI brings
// projects up and down, the Docker SDK inspects what is running and streams logs.
package docker

import "time"

// Labels set by docker compose on every container it creates.
const (
	LabelProject = "com.docker.compose.project"
	LabelService = "com.docker.compose.service"
)

// =============================================================================
// Project Types
// =============================================================================

// Project identifies a compose project on disk.
type Project struct {
	Name string
	// File is the compose file passed with -f.
	File string
	// Dir is passed with --project-directory so relative paths keep resolving
	// against the directory of the source compose file.
	Dir string
}

// DownOptions configures project teardown.
type DownOptions struct {
	Timeout       time.Duration
	RemoveOrphans bool
	RemoveVolumes bool
}

// =============================================================================
// Container Info
// =============================================================================

// ContainerStatus represents the container status.
type ContainerStatus string

const (
	ContainerStatusCreated    ContainerStatus = "created"
	ContainerStatusRunning    ContainerStatus = "running"
	ContainerStatusPaused     ContainerStatus = "paused"
	ContainerStatusRestarting ContainerStatus = "restarting"
	ContainerStatusRemoving   ContainerStatus = "removing"
	ContainerStatusExited     ContainerStatus = "exited"
	ContainerStatusDead       ContainerStatus = "dead"
)

// ContainerInfo describes a container of a compose project.
type ContainerInfo struct {
	ID      string
	Name    string
	Service string
	Image   string
	Status  ContainerStatus
	Ports   []PortBinding
	Labels  map[string]string
	Created time.Time
}

// PortBinding is one published port of a container.
type PortBinding struct {
	ContainerPort int
	HostPort      int    // 0 when not published
	Protocol      string // "tcp" or "udp"
	HostIP        string // "" or "0.0.0.0" for every interface
}

// Host returns the address the binding is reachable at, or fallback when the
// binding listens on every interface.
func (p PortBinding) Host(fallback string) string {
	switch p.HostIP {
	case "", "0.0.0.0", "::":
		return fallback
	default:
		return p.HostIP
	}
}
