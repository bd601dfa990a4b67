package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/artpar/composeenv/internal/core/compose"
	"github.com/artpar/composeenv/internal/core/descriptor"
	corereadiness "github.com/artpar/composeenv/internal/core/readiness"
	"github.com/artpar/composeenv/internal/shell/composefile"
	"github.com/artpar/composeenv/internal/shell/environment"
	"github.com/artpar/composeenv/internal/shell/ports"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess     = 0
	ExitConfigError = 1
	ExitSetupError  = 2 // host ports or environment overrides
	ExitDockerError = 3
	ExitNotReady    = 4
)

// ErrUnknownCommand is returned for anything but up, down and status.
var ErrUnknownCommand = errors.New("unknown command")

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	var notReady *corereadiness.NotReadyError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, descriptor.ErrInvalidDescriptor), errors.Is(err, ErrUnknownCommand):
		return ExitConfigError
	case errors.As(err, &notReady):
		return ExitNotReady
	case errors.Is(err, ports.ErrAllocationFailed), errors.Is(err, compose.ErrEnvironmentOverride):
		return ExitSetupError
	default:
		return ExitDockerError
	}
}

// =============================================================================
// Commands
// =============================================================================

func runCommand(ctx context.Context, command string, cfg *Config, rt environment.Runtime, out io.Writer, logger *slog.Logger) error {
	opts := environment.Options{
		Runtime:      rt,
		Store:        composefile.NewStore(cfg.Compose.StateDir, logger),
		WorkingDir:   cfg.Compose.WorkDir,
		UnderCompose: environment.DetectUnderCompose(os.Getenv),
		Logger:       logger,
	}

	switch command {
	case "up":
		return up(ctx, cfg.Environment, opts, out)
	case "down":
		return environment.Down(ctx, cfg.Environment, opts)
	case "status":
		return status(ctx, cfg.Environment, rt, out)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, command)
	}
}

// up starts the environment and leaves it running.
func up(ctx context.Context, d descriptor.Descriptor, opts environment.Options, out io.Writer) error {
	env, err := environment.New(d, opts)
	if err != nil {
		return err
	}
	table, err := env.Start(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "project %s is ready (%s)\n", d.ProjectName, env.Mode())
	snapshot := table.Snapshot()
	for _, service := range table.Services() {
		endpoint := snapshot[service]
		declared := make([]int, 0, len(endpoint.Ports))
		for port := range endpoint.Ports {
			declared = append(declared, port)
		}
		slices.Sort(declared)
		for _, port := range declared {
			addr, err := endpoint.Address(port)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s %d -> %s\n", service, port, addr)
		}
	}
	return nil
}

// status reports whether the project runs and what it publishes.
func status(ctx context.Context, d descriptor.Descriptor, rt environment.Runtime, out io.Writer) error {
	if d.ProjectName == "" {
		return descriptor.NewConfigError("project_name", "project name is required", descriptor.ErrMissingProjectName)
	}
	running, err := rt.ProjectRunning(ctx, d.ProjectName)
	if err != nil {
		return err
	}
	if !running {
		fmt.Fprintf(out, "project %s is not running\n", d.ProjectName)
		return nil
	}

	published, err := rt.PublishedPorts(ctx, d.ProjectName)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "project %s is running\n", d.ProjectName)
	services := make([]string, 0, len(published))
	for service := range published {
		services = append(services, service)
	}
	slices.Sort(services)
	for _, service := range services {
		for _, b := range published[service] {
			fmt.Fprintf(out, "%s %d -> %s:%d\n", service, b.ContainerPort, b.Host(d.DockerHost), b.HostPort)
		}
	}
	return nil
}
