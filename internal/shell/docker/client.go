package docker

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

// =============================================================================
// Docker Client Implementation
// =============================================================================

// DockerClient inspects compose projects through the Docker SDK.
type DockerClient struct {
	cli *client.Client
}

// NewDockerClient creates a new Docker client.
// If host is empty, it uses the default Docker host from environment.
// On macOS with Docker Desktop, it automatically detects the correct socket.
func NewDockerClient(ctx context.Context, host string) (*DockerClient, error) {
	var opts []client.Opt
	opts = append(opts, client.FromEnv)
	opts = append(opts, client.WithAPIVersionNegotiation())

	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, NewDockerError("NewDockerClient", "", "", "failed to create client", ErrConnectionFailed)
	}

	if host == "" {
		if _, pingErr := cli.Ping(ctx); pingErr != nil {
			// If default socket fails, try Docker Desktop socket on macOS
			homeDir, _ := os.UserHomeDir()
			dockerDesktopSocket := "unix://" + homeDir + "/.docker/run/docker.sock"

			cli2, err2 := client.NewClientWithOpts(
				client.WithHost(dockerDesktopSocket),
				client.WithAPIVersionNegotiation(),
			)
			if err2 == nil {
				if _, pingErr2 := cli2.Ping(ctx); pingErr2 == nil {
					cli.Close()
					return &DockerClient{cli: cli2}, nil
				}
				cli2.Close()
			}
		}
	}

	return &DockerClient{cli: cli}, nil
}

// Ping checks if Docker daemon is reachable.
func (d *DockerClient) Ping(ctx context.Context) error {
	if _, err := d.cli.Ping(ctx); err != nil {
		return NewDockerError("Ping", "", "", fmt.Sprintf("failed to ping docker: %v", err), ErrConnectionFailed)
	}
	return nil
}

// Close closes the Docker client connection.
func (d *DockerClient) Close() error {
	return d.cli.Close()
}

// =============================================================================
// Project Queries
// =============================================================================

// ProjectContainers lists the containers of a compose project. Stopped
// containers are included when all is set.
func (d *DockerClient) ProjectContainers(ctx context.Context, project string, all bool) ([]ContainerInfo, error) {
	return d.listContainers(ctx, all, LabelProject+"="+project)
}

// ProjectRunning reports whether any container of the project is running.
func (d *DockerClient) ProjectRunning(ctx context.Context, project string) (bool, error) {
	containers, err := d.ProjectContainers(ctx, project, false)
	if err != nil {
		return false, err
	}
	for _, c := range containers {
		if c.Status == ContainerStatusRunning {
			return true, nil
		}
	}
	return false, nil
}

// PublishedPorts returns the published tcp bindings of every running service
// of a project, read from container inspection.
func (d *DockerClient) PublishedPorts(ctx context.Context, project string) (map[string][]PortBinding, error) {
	containers, err := d.ProjectContainers(ctx, project, false)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]PortBinding)
	for _, c := range containers {
		if c.Service == "" {
			continue
		}
		bindings, err := d.inspectBindings(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		out[c.Service] = append(out[c.Service], bindings...)
	}
	return out, nil
}

func (d *DockerClient) inspectBindings(ctx context.Context, containerID string) ([]PortBinding, error) {
	resp, err := d.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, NewDockerError("InspectContainer", "container", containerID, "container not found", ErrContainerNotFound)
		}
		return nil, NewDockerError("InspectContainer", "container", containerID, err.Error(), err)
	}
	if resp.NetworkSettings == nil {
		return nil, nil
	}
	return bindingsFromPortMap(resp.NetworkSettings.Ports), nil
}

// bindingsFromPortMap flattens inspected bindings, tcp only, ordered by
// container port.
func bindingsFromPortMap(ports nat.PortMap) []PortBinding {
	var result []PortBinding
	for containerPort, bindings := range ports {
		if containerPort.Proto() != "tcp" {
			continue
		}
		port := containerPort.Int()
		for _, binding := range bindings {
			hostPort, err := strconv.Atoi(binding.HostPort)
			if err != nil || hostPort == 0 {
				continue
			}
			result = append(result, PortBinding{
				ContainerPort: port,
				HostPort:      hostPort,
				Protocol:      containerPort.Proto(),
				HostIP:        binding.HostIP,
			})
		}
	}
	slices.SortFunc(result, func(a, b PortBinding) int {
		if a.ContainerPort != b.ContainerPort {
			return a.ContainerPort - b.ContainerPort
		}
		return strings.Compare(a.HostIP, b.HostIP)
	})
	return result
}

func (d *DockerClient) listContainers(ctx context.Context, all bool, labels ...string) ([]ContainerInfo, error) {
	f := filters.NewArgs()
	for _, label := range labels {
		f.Add("label", label)
	}

	containers, err := d.cli.ContainerList(ctx, container.ListOptions{All: all, Filters: f})
	if err != nil {
		return nil, NewDockerError("ListContainers", "container", "", err.Error(), ErrConnectionFailed)
	}

	result := make([]ContainerInfo, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}

		var ports []PortBinding
		for _, p := range c.Ports {
			ports = append(ports, PortBinding{
				ContainerPort: int(p.PrivatePort),
				HostPort:      int(p.PublicPort),
				Protocol:      p.Type,
				HostIP:        p.IP,
			})
		}

		result = append(result, ContainerInfo{
			ID:      c.ID,
			Name:    name,
			Service: c.Labels[LabelService],
			Image:   c.Image,
			Status:  ContainerStatus(c.State),
			Ports:   ports,
			Labels:  c.Labels,
			Created: time.Unix(c.Created, 0),
		})
	}

	slices.SortFunc(result, func(a, b ContainerInfo) int {
		if c := strings.Compare(a.Service, b.Service); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return result, nil
}

// =============================================================================
// Logs
// =============================================================================

// ServiceLogs follows the log of a project service from container start, with
// stdout and stderr merged into plain text.
func (d *DockerClient) ServiceLogs(ctx context.Context, project, service string) (io.ReadCloser, error) {
	containers, err := d.listContainers(ctx, false, LabelProject+"="+project, LabelService+"="+service)
	if err != nil {
		return nil, err
	}
	if len(containers) == 0 {
		return nil, NewDockerError("ContainerLogs", "service", service, "no running container", ErrContainerNotFound)
	}
	return d.ContainerLogs(ctx, containers[0].ID)
}

// ContainerLogs follows the log of a container from its start.
func (d *DockerClient) ContainerLogs(ctx context.Context, containerID string) (io.ReadCloser, error) {
	resp, err := d.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, NewDockerError("ContainerLogs", "container", containerID, "container not found", ErrContainerNotFound)
		}
		return nil, NewDockerError("ContainerLogs", "container", containerID, err.Error(), err)
	}

	reader, err := d.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, NewDockerError("ContainerLogs", "container", containerID, "container not found", ErrContainerNotFound)
		}
		return nil, NewDockerError("ContainerLogs", "container", containerID, err.Error(), err)
	}

	// A TTY container's log is already plain text
	if resp.Config != nil && resp.Config.Tty {
		return reader, nil
	}
	return demux(reader), nil
}

// demux strips the stdout/stderr stream headers from a multiplexed log.
func demux(src io.ReadCloser) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, src)
		pw.CloseWithError(err)
	}()
	return &demuxedLogs{PipeReader: pr, src: src}
}

type demuxedLogs struct {
	*io.PipeReader
	src io.ReadCloser
}

func (l *demuxedLogs) Close() error {
	l.PipeReader.Close()
	return l.src.Close()
}
