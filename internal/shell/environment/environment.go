// Package environment brings a compose test environment up, waits until it is
// ready and tears it down again.
package environment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/artpar/composeenv/internal/core/compose"
	"github.com/artpar/composeenv/internal/core/descriptor"
	"github.com/artpar/composeenv/internal/core/discovery"
	"github.com/artpar/composeenv/internal/core/lifecycle"
	coreports "github.com/artpar/composeenv/internal/core/ports"
	corereadiness "github.com/artpar/composeenv/internal/core/readiness"
	"github.com/artpar/composeenv/internal/shell/composefile"
	"github.com/artpar/composeenv/internal/shell/docker"
	"github.com/artpar/composeenv/internal/shell/ports"
	"github.com/artpar/composeenv/internal/shell/readiness"
)

// maxLaunchAttempts bounds re-preparation after another process grabbed one
// of the reserved host ports.
const maxLaunchAttempts = 3

// Runtime is the container runtime an environment drives.
type Runtime interface {
	Up(ctx context.Context, p docker.Project) error
	Down(ctx context.Context, p docker.Project, opts docker.DownOptions) error
	ProjectRunning(ctx context.Context, project string) (bool, error)
	PublishedPorts(ctx context.Context, project string) (map[string][]docker.PortBinding, error)
	ServiceLogs(ctx context.Context, project, service string) (io.ReadCloser, error)
}

// Options carries the collaborators of an environment.
type Options struct {
	Runtime Runtime
	// Store persists effective compose files. Defaults to $TMPDIR/composeenv.
	Store *composefile.Store
	// WorkingDir is where the compose file search starts. Defaults to the
	// process working directory.
	WorkingDir string
	// UnderCompose is set when the tests themselves run inside the compose
	// project. See DetectUnderCompose.
	UnderCompose bool
	// Environ holds variables for compose interpolation. Defaults to the
	// process environment.
	Environ map[string]string
	// Allocator replaces the allocator selected from the descriptor.
	Allocator ports.Allocator
	// Dialer replaces the dialer used for port probes.
	Dialer readiness.Dialer
	Logger *slog.Logger
}

// =============================================================================
// Environment
// =============================================================================

// Environment is one test environment. Start and Stop are safe to call more
// than once and from several goroutines.
type Environment struct {
	desc   descriptor.Descriptor
	opts   Options
	runID  string
	logger *slog.Logger

	run sync.Mutex // serialises Start and Stop

	mu        sync.RWMutex
	state     lifecycle.State
	mode      lifecycle.Mode
	table     *discovery.Table
	report    *corereadiness.Report
	project   docker.Project
	sourceDir string
	alloc     ports.Allocator
	launched  bool // containers may exist that this process has to remove
}

// New validates d and creates an environment that has not started yet.
func New(d descriptor.Descriptor, opts Options) (*Environment, error) {
	d = d.Clone()
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if opts.Runtime == nil {
		return nil, ErrNoRuntime
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Store == nil {
		opts.Store = composefile.NewStore("", opts.Logger)
	}
	if opts.Environ == nil {
		opts.Environ = environ(os.Environ())
	}

	runID := uuid.NewString()
	return &Environment{
		desc:    d,
		opts:    opts,
		runID:   runID,
		logger:  opts.Logger.With("component", "environment", "project", d.ProjectName, "run_id", runID),
		state:   lifecycle.StateNotStarted,
		project: docker.Project{Name: d.ProjectName},
	}, nil
}

// Start brings the environment up and blocks until it is ready or the start
// timeout elapses. Once ready, further calls return the same table.
func (e *Environment) Start(ctx context.Context) (*discovery.Table, error) {
	e.run.Lock()
	defer e.run.Unlock()

	switch state := e.State(); {
	case state == lifecycle.StateReady:
		return e.Discovery(), nil
	case !state.Startable():
		return nil, fmt.Errorf("%w: cannot start from %s", ErrInvalidState, state)
	}

	ctx, cancel := context.WithTimeout(ctx, e.desc.StartTimeout)
	defer cancel()
	started := time.Now()

	table, active, err := e.bringUp(ctx)
	if err != nil {
		return nil, e.startupFailed(ctx, e.budgetExceeded(ctx, err, started))
	}

	if err := e.transition(lifecycle.StateAwaitingReady); err != nil {
		return nil, e.startupFailed(ctx, err)
	}
	var waitOpts []readiness.Option
	if e.opts.Dialer != nil {
		waitOpts = append(waitOpts, readiness.WithDialer(e.opts.Dialer))
	}
	waiter := readiness.NewWaiter(projectLogs{runtime: e.opts.Runtime, project: e.desc.ProjectName}, e.logger, waitOpts...)

	report, err := waiter.WaitUntilReady(ctx, corereadiness.NewPlan(e.desc, active), table)
	e.mu.Lock()
	e.report = report
	e.mu.Unlock()
	if err != nil {
		return nil, e.startupFailed(ctx, err)
	}

	if err := e.transition(lifecycle.StateReady); err != nil {
		return nil, e.startupFailed(ctx, err)
	}
	e.logger.Info("environment started", "mode", e.Mode(), "services", len(active), "elapsed", time.Since(started))
	return table, nil
}

// Stop tears the environment down when this process owns it and the
// descriptor asks for it. Failures are returned as *TeardownError.
func (e *Environment) Stop(ctx context.Context) error {
	e.run.Lock()
	defer e.run.Unlock()

	state := e.State()
	if state == lifecycle.StateNotStarted {
		return e.transition(lifecycle.StateTornDown)
	}
	if !state.Stoppable() {
		return nil
	}

	e.mu.RLock()
	launched := e.launched
	e.mu.RUnlock()

	if !launched || !e.desc.DownOnComplete {
		if launched {
			e.logger.Info("leaving environment running", "file", e.project.File)
		}
		e.releasePorts()
		return e.transition(lifecycle.StateTornDown)
	}

	if err := e.down(ctx); err != nil {
		e.logger.Warn("teardown failed", "error", err)
		if terr := e.transition(lifecycle.StateTeardownFailed); terr != nil {
			return terr
		}
		return NewTeardownError(e.desc.ProjectName, err)
	}
	return e.transition(lifecycle.StateTornDown)
}

// =============================================================================
// Accessors
// =============================================================================

// State returns the current lifecycle state.
func (e *Environment) State() lifecycle.State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Mode returns how the environment was obtained. It is empty before Start.
func (e *Environment) Mode() lifecycle.Mode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mode
}

// Discovery returns the discovery table, or nil before preparation.
func (e *Environment) Discovery() *discovery.Table {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.table
}

// Report returns the last readiness report, or nil if readiness never ran.
func (e *Environment) Report() *corereadiness.Report {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.report
}

// Project returns the compose project as passed to the runtime.
func (e *Environment) Project() docker.Project {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.project
}

// RunID identifies this run in logs.
func (e *Environment) RunID() string { return e.runID }

// =============================================================================
// Internal
// =============================================================================

func (e *Environment) transition(to lifecycle.State) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := lifecycle.ValidateTransition(e.state, to); err != nil {
		return err
	}
	e.logger.Debug("state change", "from", e.state, "to", to)
	e.state = to
	return nil
}

func (e *Environment) bringUp(ctx context.Context) (*discovery.Table, []string, error) {
	if err := e.transition(lifecycle.StateDetecting); err != nil {
		return nil, nil, err
	}
	mode, err := e.detect(ctx)
	if err != nil {
		return nil, nil, err
	}
	e.mu.Lock()
	e.mode = mode
	e.mu.Unlock()
	e.logger.Info("starting environment", "mode", mode)

	switch mode {
	case lifecycle.ModeExternal:
		return e.externalDiscovery(ctx)
	case lifecycle.ModeReused:
		if err := e.transition(lifecycle.StatePreparing); err != nil {
			return nil, nil, err
		}
		def, err := e.loadDefinition(ctx)
		if err != nil {
			return nil, nil, err
		}
		table := discovery.NewTable()
		out, err := e.prepare(ctx, def, e.allocator(), table)
		if err != nil {
			return nil, nil, err
		}
		table.Finalize()
		return table, out.Services(), nil
	default:
		return e.launch(ctx)
	}
}

// launch prepares and starts an owned environment. A bind conflict on a
// reserved port burns the reported ports and prepares again.
func (e *Environment) launch(ctx context.Context) (*discovery.Table, []string, error) {
	if err := e.transition(lifecycle.StatePreparing); err != nil {
		return nil, nil, err
	}
	def, err := e.loadDefinition(ctx)
	if err != nil {
		return nil, nil, err
	}

	alloc := e.allocator()
	var lastErr error
	attempt := 1
	for ; attempt <= maxLaunchAttempts; attempt++ {
		if attempt > 1 {
			if err := e.transition(lifecycle.StatePreparing); err != nil {
				return nil, nil, err
			}
		}
		table := discovery.NewTable()
		out, err := e.prepare(ctx, def, alloc, table)
		if err != nil {
			return nil, nil, err
		}

		if err := e.transition(lifecycle.StateLaunching); err != nil {
			return nil, nil, err
		}
		project := e.Project()
		e.mu.Lock()
		e.launched = true
		e.mu.Unlock()
		e.logger.Info("launching environment", "attempt", attempt, "file", project.File)

		lastErr = e.opts.Runtime.Up(ctx, project)
		if lastErr == nil {
			table.Finalize()
			return table, out.Services(), nil
		}
		if !errors.Is(lastErr, docker.ErrPortAlreadyAllocated) || alloc.Deterministic() || attempt == maxLaunchAttempts {
			break
		}

		taken := docker.PortsOf(lastErr)
		e.logger.Warn("reserved host port taken by another process, retrying", "ports", taken, "attempt", attempt)
		for _, port := range taken {
			alloc.Burn(port)
		}
		alloc.ReleaseAll()
		// Containers created before the conflict would hold on to their ports
		if err := e.opts.Runtime.Down(ctx, project, docker.DownOptions{RemoveOrphans: true}); err != nil {
			e.logger.Debug("cleanup before retry failed", "error", err)
		}
	}
	return nil, nil, NewLaunchError(e.desc.ProjectName, attempt, lastErr)
}

func (e *Environment) loadDefinition(ctx context.Context) (*compose.Definition, error) {
	workDir := e.opts.WorkingDir
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		workDir = wd
	}

	path, err := composefile.Locate(workDir, e.desc.ComposeFile)
	if err != nil {
		return nil, descriptor.NewConfigError("compose_file", err.Error(), err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read compose file: %w", err)
	}

	def, err := compose.Parse(ctx, compose.Source{
		Filename:    path,
		Content:     content,
		WorkingDir:  filepath.Dir(path),
		Environment: e.opts.Environ,
		ProjectName: e.desc.ProjectName,
	})
	if err != nil {
		return nil, descriptor.NewConfigError("compose_file", err.Error(), err)
	}

	e.mu.Lock()
	e.sourceDir = filepath.Dir(path)
	e.mu.Unlock()
	e.logger.Debug("loaded compose file", "path", path, "services", def.Services())
	return def, nil
}

// prepare reserves ports, rewrites the definition and persists it.
func (e *Environment) prepare(ctx context.Context, def *compose.Definition, alloc ports.Allocator, table *discovery.Table) (*compose.Definition, error) {
	e.mu.Lock()
	e.table = table
	e.mu.Unlock()

	out, err := compose.Transform(ctx, def, compose.TransformInput{
		Descriptor: e.desc,
		Reserve:    alloc.Reserve,
		Discovery:  table,
		Host:       e.desc.DockerHost,
	})
	if err != nil {
		return nil, classifyTransform(err)
	}

	data, err := out.MarshalYAML()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal effective definition: %w", err)
	}
	path, err := e.opts.Store.Write(e.desc.ProjectName, data)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.project = docker.Project{Name: e.desc.ProjectName, File: path, Dir: e.sourceDir}
	e.mu.Unlock()
	e.logger.Debug("prepared effective definition", "services", out.Services(), "dropped", out.Dropped, "file", path)
	return out, nil
}

// classifyTransform turns definition mistakes into configuration errors.
func classifyTransform(err error) error {
	field := "compose_file"
	var terr *compose.TransformError
	if errors.As(err, &terr) && terr.Step == "ports" {
		field = "ports"
	}
	if errors.Is(err, compose.ErrUnknownService) || errors.Is(err, compose.ErrCircularDependency) {
		return descriptor.NewConfigError(field, err.Error(), err)
	}
	return err
}

func (e *Environment) allocator() ports.Allocator {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.alloc != nil {
		return e.alloc
	}
	rng := coreports.PortRange{Start: e.desc.PortRangeStart, End: e.desc.PortRangeEnd}
	switch {
	case e.opts.Allocator != nil:
		e.alloc = e.opts.Allocator
	case e.desc.TryFindExistingEnvironment:
		// Reuse across runs needs every run to agree on the bindings
		e.alloc = ports.NewSerialAllocator(rng, e.desc.Ports)
	default:
		e.alloc = ports.NewFreeAllocator(rng, nil, e.logger)
	}
	return e.alloc
}

// releasePorts drops this run's reservations once nothing holds them.
func (e *Environment) releasePorts() {
	e.mu.RLock()
	alloc := e.alloc
	e.mu.RUnlock()
	if alloc != nil {
		alloc.ReleaseAll()
	}
}

// budgetExceeded turns a bring-up failure caused by the start timeout into a
// not-ready error listing every service as pending, so a slow launch is
// reported like a slow service.
func (e *Environment) budgetExceeded(ctx context.Context, cause error, started time.Time) error {
	var notReady *corereadiness.NotReadyError
	if !errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.As(cause, &notReady) {
		return cause
	}
	cause = fmt.Errorf("%w: %w", cause, ctx.Err())
	report := corereadiness.Unstarted(corereadiness.NewPlan(e.desc, e.declaredServices()), cause, time.Since(started))
	e.mu.Lock()
	e.report = report
	e.mu.Unlock()
	return corereadiness.NewNotReadyError(report, cause)
}

// startupFailed records the failure and removes what was launched, unless a
// readiness failure should stay up for inspection.
func (e *Environment) startupFailed(ctx context.Context, cause error) error {
	if table := e.Discovery(); table != nil {
		table.Finalize()
	}
	if err := e.transition(lifecycle.StateStartupFailed); err != nil {
		e.logger.Error("cannot record startup failure", "error", err)
	}

	e.mu.RLock()
	launched := e.launched
	e.mu.RUnlock()
	if !launched {
		return cause
	}

	var notReady *corereadiness.NotReadyError
	if errors.As(cause, &notReady) && e.desc.KeepOnStartupFailure {
		e.logger.Warn("environment not ready, keeping it for inspection", "file", e.Project().File, "error", cause)
		return cause
	}

	e.logger.Warn("startup failed, removing environment", "error", cause)
	if err := e.down(context.WithoutCancel(ctx)); err != nil {
		e.logger.Warn("cleanup after failed startup failed", "error", err)
	}
	return cause
}

// down removes the project and its effective file within the stop timeout.
func (e *Environment) down(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.desc.StopTimeout)
	defer cancel()

	project := e.Project()
	err := e.opts.Runtime.Down(ctx, project, docker.DownOptions{
		// Containers get half the budget to stop gracefully
		Timeout:       e.desc.StopTimeout / 2,
		RemoveOrphans: true,
		RemoveVolumes: true,
	})
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.launched = false
	e.mu.Unlock()
	e.releasePorts()
	if err := e.opts.Store.Remove(project.Name); err != nil {
		e.logger.Warn("failed to remove effective compose file", "error", err)
	}
	e.logger.Info("environment removed")
	return nil
}

func environ(pairs []string) map[string]string {
	env := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

// projectLogs binds a runtime to one project for the readiness waiter.
type projectLogs struct {
	runtime Runtime
	project string
}

func (l projectLogs) Logs(ctx context.Context, service string) (io.ReadCloser, error) {
	return l.runtime.ServiceLogs(ctx, l.project, service)
}
