// Package testenv runs a test binary against an ephemeral compose environment.
//
// A test package declares its environment once, in TestMain:
//
//	func TestMain(m *testing.M) {
//	    d := testenv.Defaults()
//	    d.ProjectName = "orders"
//	    d.Ports = map[string][]int{"db": {5432}, "api": {8080}}
//	    d.Markers = map[string][]string{"db": {"ready to accept connections"}}
//	    testenv.Main(m, d)
//	}
//
// Tests then look services up with Address or Discovery.
package testenv

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/artpar/composeenv/internal/core/descriptor"
	"github.com/artpar/composeenv/internal/core/discovery"
	corereadiness "github.com/artpar/composeenv/internal/core/readiness"
	"github.com/artpar/composeenv/internal/shell/docker"
	"github.com/artpar/composeenv/internal/shell/environment"
	"github.com/artpar/composeenv/internal/shell/ports"
)

type (
	Descriptor      = descriptor.Descriptor
	ReadyFunc       = descriptor.ReadyFunc
	EnvironmentFunc = descriptor.EnvironmentFunc
	MarkerOrder     = descriptor.MarkerOrder
	Table           = discovery.Table
	Endpoint        = discovery.Endpoint
	Environment     = environment.Environment
	Options         = environment.Options

	ConfigError         = descriptor.ConfigError
	AllocationError     = ports.AllocationError
	LaunchError         = environment.LaunchError
	NotReadyError       = corereadiness.NotReadyError
	TeardownError       = environment.TeardownError
	NotYetResolvedError = discovery.NotYetResolvedError
)

const (
	AnyService       = descriptor.AnyService
	MarkersOrdered   = descriptor.MarkersOrdered
	MarkersUnordered = descriptor.MarkersUnordered
)

// ErrNotStarted is returned by lookups made outside Main.
var ErrNotStarted = errors.New("test environment not started")

var (
	mu      sync.RWMutex
	current *Environment
)

// Defaults returns a descriptor with every policy at its default.
func Defaults() Descriptor {
	return descriptor.Defaults()
}

// New creates an environment on the local docker daemon. The returned close
// function releases the daemon connection.
func New(ctx context.Context, d Descriptor, logger *slog.Logger) (*Environment, func() error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt, err := docker.NewLocalRuntime(ctx, os.Getenv("DOCKER_HOST"), logger)
	if err != nil {
		return nil, nil, err
	}
	env, err := environment.New(d, environment.Options{
		Runtime:      rt,
		UnderCompose: environment.DetectUnderCompose(os.Getenv),
		Logger:       logger,
	})
	if err != nil {
		rt.Close()
		return nil, nil, err
	}
	return env, rt.Close, nil
}

// Main starts the environment, runs the tests and exits with their status.
func Main(m *testing.M, d Descriptor) {
	os.Exit(Run(m, d))
}

// Run starts the environment, runs the tests, tears the environment down and
// returns the exit code. A teardown failure is logged, never turned into a
// test failure.
func Run(m *testing.M, d Descriptor) int {
	ctx := context.Background()
	logger := slog.Default()

	env, closeRuntime, err := New(ctx, d, logger)
	if err != nil {
		logger.Error("cannot create test environment", "error", err)
		return 1
	}
	defer closeRuntime()

	if _, err := env.Start(ctx); err != nil {
		logger.Error("test environment did not start", "project", d.ProjectName, "error", err)
		return 1
	}
	setCurrent(env)
	defer setCurrent(nil)

	code := m.Run()

	if err := env.Stop(ctx); err != nil {
		logger.Warn("test environment teardown failed", "project", d.ProjectName, "error", err)
	}
	return code
}

func setCurrent(env *Environment) {
	mu.Lock()
	defer mu.Unlock()
	current = env
}

// Current returns the environment started by Main, or nil.
func Current() *Environment {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Discovery returns the discovery table of the environment started by Main.
func Discovery() (*Table, error) {
	env := Current()
	if env == nil || env.Discovery() == nil {
		return nil, ErrNotStarted
	}
	return env.Discovery(), nil
}

// Address returns host:port for a service's declared port.
func Address(service string, port int) (string, error) {
	table, err := Discovery()
	if err != nil {
		return "", err
	}
	return table.Address(service, port)
}
