package environment

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/artpar/composeenv/internal/core/descriptor"
	"github.com/artpar/composeenv/internal/core/discovery"
	"github.com/artpar/composeenv/internal/core/lifecycle"
	"github.com/artpar/composeenv/internal/shell/docker"
)

// UnderComposeVar is set inside containers that run the tests as part of the
// compose project.
const UnderComposeVar = "UNDER_COMPOSE"

// DetectUnderCompose reports whether getenv says the tests run under compose.
// Any value other than an explicit false counts.
func DetectUnderCompose(getenv func(string) string) bool {
	v := strings.TrimSpace(getenv(UnderComposeVar))
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err != nil || b
}

// =============================================================================
// Mode Detection
// =============================================================================

func (e *Environment) detect(ctx context.Context) (lifecycle.Mode, error) {
	if e.opts.UnderCompose || e.desc.IsExternalCompose {
		return lifecycle.ModeExternal, nil
	}
	if !e.desc.TryFindExistingEnvironment {
		return lifecycle.ModeOwned, nil
	}

	running, err := e.opts.Runtime.ProjectRunning(ctx, e.desc.ProjectName)
	if err != nil {
		return "", fmt.Errorf("failed to look for a running environment: %w", err)
	}
	if running {
		return lifecycle.ModeReused, nil
	}
	return lifecycle.ModeOwned, nil
}

// =============================================================================
// External Environments
// =============================================================================

// externalDiscovery fills the table for an environment someone else runs.
// Under compose services are reached by name on their container ports.
// Otherwise published bindings are inspected, falling back to the declared
// ports on the docker host.
func (e *Environment) externalDiscovery(ctx context.Context) (*discovery.Table, []string, error) {
	table := discovery.NewTable()
	e.mu.Lock()
	e.table = table
	e.mu.Unlock()

	var published map[string][]docker.PortBinding
	if !e.opts.UnderCompose {
		bindings, err := e.opts.Runtime.PublishedPorts(ctx, e.desc.ProjectName)
		if err != nil {
			e.logger.Warn("cannot inspect external environment, using declared ports", "error", err)
		}
		published = bindings
	}

	active := e.declaredServices()
	for _, name := range active {
		host, ports := e.externalEndpoint(name, published[name])
		if err := table.Populate(name, host, ports); err != nil {
			return nil, nil, err
		}
	}
	table.Finalize()
	return table, active, nil
}

// declaredServices lists every service the descriptor names, minus exclusions.
func (e *Environment) declaredServices() []string {
	var names []string
	for _, name := range e.desc.PortServices() {
		if !e.desc.IsRemoved(name) {
			names = append(names, name)
		}
	}
	for name := range e.desc.Markers {
		if name != descriptor.AnyService && !e.desc.IsRemoved(name) && !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

func (e *Environment) externalEndpoint(name string, published []docker.PortBinding) (string, map[int]int) {
	declared := e.desc.Ports[name]
	ports := make(map[int]int, len(declared))
	if e.opts.UnderCompose {
		for _, p := range declared {
			ports[p] = p
		}
		return name, ports
	}

	host := e.desc.DockerHost
	for _, p := range declared {
		ports[p] = p
		for _, b := range published {
			if b.ContainerPort == p {
				ports[p] = b.HostPort
				host = b.Host(e.desc.DockerHost)
				break
			}
		}
	}
	return host, ports
}

// =============================================================================
// Teardown Without Start
// =============================================================================

// Down removes a project left running by an earlier run, using its persisted
// effective file when one exists.
func Down(ctx context.Context, d descriptor.Descriptor, opts Options) error {
	if opts.Runtime == nil {
		return ErrNoRuntime
	}
	env, err := New(d, opts)
	if err != nil {
		return err
	}

	project := docker.Project{Name: d.ProjectName}
	if env.opts.Store.Exists(d.ProjectName) {
		project.File = env.opts.Store.Path(d.ProjectName)
	}
	env.mu.Lock()
	env.project = project
	env.mu.Unlock()

	if err := env.down(ctx); err != nil {
		return NewTeardownError(d.ProjectName, err)
	}
	return nil
}
