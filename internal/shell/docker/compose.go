package docker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// =============================================================================
// Compose CLI
// =============================================================================

// ComposeCLI drives `docker compose` for one project file at a time.
type ComposeCLI struct {
	run     Runner
	command []string
	logger  *slog.Logger
}

// NewComposeCLI creates a compose driver. run defaults to ExecRunner.
func NewComposeCLI(run Runner, logger *slog.Logger) *ComposeCLI {
	if run == nil {
		run = ExecRunner
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ComposeCLI{
		run:     run,
		command: []string{"docker", "compose"},
		logger:  logger.With("component", "compose"),
	}
}

// Up creates and starts every service of the project in the background.
// A bind conflict on a published port returns ErrPortAlreadyAllocated with
// the conflicting host ports attached.
func (c *ComposeCLI) Up(ctx context.Context, p Project) error {
	args := append(c.projectArgs(p), "up", "-d", "--remove-orphans")
	c.logger.Info("starting project", "project", p.Name, "file", p.File)

	out, err := c.exec(ctx, args...)
	if err == nil {
		return nil
	}
	output := strings.TrimSpace(string(out))
	if IsPortConflict(output) {
		dockerErr := NewDockerError("up", "project", p.Name, output, ErrPortAlreadyAllocated)
		dockerErr.Ports = ConflictingPorts(output)
		return dockerErr
	}
	return c.classify(ctx, "up", p.Name, output, err)
}

// Down stops and removes the project's containers and networks.
func (c *ComposeCLI) Down(ctx context.Context, p Project, opts DownOptions) error {
	args := append(c.projectArgs(p), "down")
	if opts.Timeout > 0 {
		args = append(args, "--timeout", strconv.Itoa(int(opts.Timeout.Round(time.Second)/time.Second)))
	}
	if opts.RemoveOrphans {
		args = append(args, "--remove-orphans")
	}
	if opts.RemoveVolumes {
		args = append(args, "--volumes")
	}
	c.logger.Info("stopping project", "project", p.Name)

	out, err := c.exec(ctx, args...)
	if err != nil {
		return c.classify(ctx, "down", p.Name, strings.TrimSpace(string(out)), err)
	}
	return nil
}

// Version returns the compose plugin version, checking it is installed.
func (c *ComposeCLI) Version(ctx context.Context) (string, error) {
	out, err := c.exec(ctx, "version", "--short")
	if err != nil {
		return "", c.classify(ctx, "version", "", strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (c *ComposeCLI) projectArgs(p Project) []string {
	args := []string{"-p", p.Name}
	if p.File != "" {
		args = append(args, "-f", p.File)
	}
	if p.Dir != "" {
		args = append(args, "--project-directory", p.Dir)
	}
	return args
}

func (c *ComposeCLI) exec(ctx context.Context, args ...string) ([]byte, error) {
	full := append(c.command[1:len(c.command):len(c.command)], args...)
	c.logger.Debug("running", "command", c.command[0], "args", full)
	return c.run(ctx, c.command[0], full...)
}

func (c *ComposeCLI) classify(ctx context.Context, op, project, output string, err error) error {
	switch {
	case errors.Is(err, exec.ErrNotFound):
		return NewDockerError(op, "project", project, "docker CLI not found in PATH", ErrComposeUnavailable)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return NewDockerError(op, "project", project, "timed out", ErrTimeout)
	case strings.Contains(output, "Cannot connect to the Docker daemon"):
		return NewDockerError(op, "project", project, output, ErrConnectionFailed)
	case strings.Contains(output, "is not a docker command"), strings.Contains(output, "unknown command"):
		return NewDockerError(op, "project", project, output, ErrComposeUnavailable)
	}
	if output == "" {
		output = err.Error()
	}
	return NewDockerError(op, "project", project, output, fmt.Errorf("%w: %w", ErrComposeFailed, err))
}
