package docker

import (
	"context"
	"io"
	"log/slog"
)

// Runtime combines the compose CLI with SDK inspection into the operations an
// environment needs from the container runtime.
type Runtime struct {
	compose *ComposeCLI
	client  *DockerClient
}

// NewRuntime creates a runtime. client may be nil, in which case inspection
// reports nothing running and logs are unavailable.
func NewRuntime(compose *ComposeCLI, client *DockerClient) *Runtime {
	return &Runtime{compose: compose, client: client}
}

// NewLocalRuntime drives the docker CLI on PATH and connects the SDK to host,
// or to the environment's default daemon when host is empty.
func NewLocalRuntime(ctx context.Context, host string, logger *slog.Logger) (*Runtime, error) {
	client, err := NewDockerClient(ctx, host)
	if err != nil {
		return nil, err
	}
	return NewRuntime(NewComposeCLI(ExecRunner, logger), client), nil
}

// Up implements environment.Runtime.
func (r *Runtime) Up(ctx context.Context, p Project) error {
	return r.compose.Up(ctx, p)
}

// Down implements environment.Runtime.
func (r *Runtime) Down(ctx context.Context, p Project, opts DownOptions) error {
	return r.compose.Down(ctx, p, opts)
}

// ProjectRunning implements environment.Runtime.
func (r *Runtime) ProjectRunning(ctx context.Context, project string) (bool, error) {
	if r.client == nil {
		return false, nil
	}
	return r.client.ProjectRunning(ctx, project)
}

// PublishedPorts implements environment.Runtime.
func (r *Runtime) PublishedPorts(ctx context.Context, project string) (map[string][]PortBinding, error) {
	if r.client == nil {
		return nil, NewDockerError("PublishedPorts", "project", project, "no docker client", ErrConnectionFailed)
	}
	return r.client.PublishedPorts(ctx, project)
}

// ServiceLogs implements environment.Runtime.
func (r *Runtime) ServiceLogs(ctx context.Context, project, service string) (io.ReadCloser, error) {
	if r.client == nil {
		return nil, NewDockerError("ContainerLogs", "service", service, "no docker client", ErrConnectionFailed)
	}
	return r.client.ServiceLogs(ctx, project, service)
}

// Close releases the SDK client.
func (r *Runtime) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
