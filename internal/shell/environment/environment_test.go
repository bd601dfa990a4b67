package environment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/composeenv/internal/core/compose"
	"github.com/artpar/composeenv/internal/core/descriptor"
	"github.com/artpar/composeenv/internal/core/discovery"
	"github.com/artpar/composeenv/internal/core/lifecycle"
	coreports "github.com/artpar/composeenv/internal/core/ports"
	corereadiness "github.com/artpar/composeenv/internal/core/readiness"
	"github.com/artpar/composeenv/internal/shell/composefile"
	"github.com/artpar/composeenv/internal/shell/docker"
	"github.com/artpar/composeenv/internal/shell/ports"
)

// =============================================================================
// Test Helpers
// =============================================================================

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const testCompose = `services:
  db:
    image: postgres:16
    ports:
      - "5432:5432"
    environment:
      POSTGRES_PASSWORD: secret
  api:
    image: example/api:latest
    depends_on:
      - db
    environment:
      DB_URL: postgres://db:5432
  builder:
    build: ./builder
`

// fakeRuntime records every call and replays configured outcomes.
type fakeRuntime struct {
	mu sync.Mutex

	upFunc       func(call int, p docker.Project) error
	blockUp      bool // Up waits for its context like a slow image pull
	downErr      error
	running      bool
	runningErr   error
	published    map[string][]docker.PortBinding
	publishedErr error
	logs         map[string]string

	ups          []docker.Project
	upFiles      []string
	downs        []docker.Project
	inspected    int
	logsOpened   []string
	runningCalls int
}

func (f *fakeRuntime) Up(ctx context.Context, p docker.Project) error {
	f.mu.Lock()
	content, _ := os.ReadFile(p.File)
	f.ups = append(f.ups, p)
	f.upFiles = append(f.upFiles, string(content))
	upFunc, call, block := f.upFunc, len(f.ups), f.blockUp
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return docker.NewDockerError("up", "project", p.Name, "timed out", docker.ErrTimeout)
	}
	if upFunc != nil {
		return upFunc(call, p)
	}
	return nil
}

// countingAllocator wraps a real allocator and counts releases.
type countingAllocator struct {
	ports.Allocator
	mu       sync.Mutex
	released int
}

func (a *countingAllocator) ReleaseAll() {
	a.mu.Lock()
	a.released++
	a.mu.Unlock()
	a.Allocator.ReleaseAll()
}

func (a *countingAllocator) releases() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.released
}

func (f *fakeRuntime) Down(_ context.Context, p docker.Project, _ docker.DownOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downs = append(f.downs, p)
	return f.downErr
}

func (f *fakeRuntime) ProjectRunning(context.Context, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runningCalls++
	return f.running, f.runningErr
}

func (f *fakeRuntime) PublishedPorts(context.Context, string) (map[string][]docker.PortBinding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inspected++
	return f.published, f.publishedErr
}

func (f *fakeRuntime) ServiceLogs(_ context.Context, _ string, service string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logsOpened = append(f.logsOpened, service)
	return io.NopCloser(strings.NewReader(f.logs[service])), nil
}

func (f *fakeRuntime) counts() (ups, downs int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ups), len(f.downs)
}

// acceptDialer treats every port as listening.
type acceptDialer struct {
	mu    sync.Mutex
	addrs []string
}

func (d *acceptDialer) DialContext(_ context.Context, _, address string) (net.Conn, error) {
	d.mu.Lock()
	d.addrs = append(d.addrs, address)
	d.mu.Unlock()
	client, server := net.Pipe()
	server.Close()
	return client, nil
}

type fixture struct {
	dir     string
	store   *composefile.Store
	runtime *fakeRuntime
	dialer  *acceptDialer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docker-compose.yml"), []byte(testCompose), 0644))
	return &fixture{
		dir:   dir,
		store: composefile.NewStore(filepath.Join(dir, "state"), setupTestLogger()),
		runtime: &fakeRuntime{logs: map[string]string{
			"db": "initdb done\ndatabase system is ready to accept connections\n",
		}},
		dialer: &acceptDialer{},
	}
}

func (f *fixture) options() Options {
	return Options{
		Runtime:    f.runtime,
		Store:      f.store,
		WorkingDir: f.dir,
		Environ:    map[string]string{},
		Dialer:     f.dialer,
		Logger:     setupTestLogger(),
	}
}

func testDescriptor() descriptor.Descriptor {
	d := descriptor.Defaults()
	d.ProjectName = "envtest"
	d.Ports = map[string][]int{"db": {5432}, "api": {8080}}
	d.Markers = map[string][]string{"db": {"ready to accept connections"}}
	d.StartTimeout = 5 * time.Second
	d.StopTimeout = time.Second
	d.PollInterval = 10 * time.Millisecond
	d.PortRangeStart = 50000
	return d
}

func newEnvironment(t *testing.T, f *fixture, d descriptor.Descriptor) *Environment {
	t.Helper()
	env, err := New(d, f.options())
	require.NoError(t, err)
	return env
}

// =============================================================================
// Owned Environment Tests
// =============================================================================

func TestEnvironment_StartOwned(t *testing.T) {
	f := newFixture(t)
	d := testDescriptor()
	d.Environment = func(_ context.Context, service string, existing map[string]string, table *discovery.Table) (map[string]string, error) {
		if service == "api" {
			addr, err := table.Address("db", 5432)
			if err != nil {
				return nil, err
			}
			existing["DB_URL"] = "postgres://" + addr
		}
		return existing, nil
	}
	env := newEnvironment(t, f, d)
	ctx := context.Background()

	table, err := env.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateReady, env.State())
	assert.Equal(t, lifecycle.ModeOwned, env.Mode())
	assert.NotEmpty(t, env.RunID())
	assert.True(t, table.Finalized())
	assert.Equal(t, []string{"api", "db"}, table.Services())

	dbPort, err := table.Port("db", 5432)
	require.NoError(t, err)
	apiPort, err := table.Port("api", 8080)
	require.NoError(t, err)
	assert.NotEqual(t, dbPort, apiPort)
	assert.GreaterOrEqual(t, dbPort, 50000)

	_, err = table.Resolve("builder")
	assert.ErrorIs(t, err, discovery.ErrUnknownService)

	// The runtime got the persisted effective file
	require.Len(t, f.runtime.ups, 1)
	project := f.runtime.ups[0]
	assert.Equal(t, "envtest", project.Name)
	assert.Equal(t, f.store.Path("envtest"), project.File)
	assert.Equal(t, f.dir, project.Dir)
	effective := f.runtime.upFiles[0]
	assert.NotContains(t, effective, "builder")
	assert.Contains(t, effective, strconv.Itoa(dbPort))
	assert.Contains(t, effective, strconv.Itoa(apiPort))
	assert.Contains(t, effective, "postgres://localhost:"+strconv.Itoa(dbPort))

	report := env.Report()
	require.NotNil(t, report)
	assert.Equal(t, corereadiness.VerdictReady, report.Verdict)
	assert.Contains(t, f.runtime.logsOpened, "db")

	// Start is idempotent once ready
	again, err := env.Start(ctx)
	require.NoError(t, err)
	assert.Same(t, table, again)
	ups, _ := f.runtime.counts()
	assert.Equal(t, 1, ups)

	require.NoError(t, env.Stop(ctx))
	assert.Equal(t, lifecycle.StateTornDown, env.State())
	assert.False(t, f.store.Exists("envtest"))

	// Stop is idempotent
	require.NoError(t, env.Stop(ctx))
	_, downs := f.runtime.counts()
	assert.Equal(t, 1, downs)
}

func TestEnvironment_KeepWhenDownOnCompleteDisabled(t *testing.T) {
	f := newFixture(t)
	d := testDescriptor()
	d.DownOnComplete = false
	env := newEnvironment(t, f, d)

	_, err := env.Start(context.Background())
	require.NoError(t, err)
	require.NoError(t, env.Stop(context.Background()))

	_, downs := f.runtime.counts()
	assert.Equal(t, 0, downs)
	assert.Equal(t, lifecycle.StateTornDown, env.State())
	assert.True(t, f.store.Exists("envtest"), "effective file stays for a later down")
}

// =============================================================================
// Launch Failure Tests
// =============================================================================

func portConflict(port int) error {
	err := docker.NewDockerError("up", "project", "envtest", "port is already allocated", docker.ErrPortAlreadyAllocated)
	err.Ports = []int{port}
	return err
}

func TestEnvironment_PortRaceRetry(t *testing.T) {
	f := newFixture(t)
	var env *Environment
	var burned int
	f.runtime.upFunc = func(call int, _ docker.Project) error {
		if call > 1 {
			return nil
		}
		port, err := env.Discovery().Port("api", 8080)
		if err != nil {
			return err
		}
		burned = port
		return portConflict(port)
	}
	env = newEnvironment(t, f, testDescriptor())

	table, err := env.Start(context.Background())
	require.NoError(t, err)

	ups, downs := f.runtime.counts()
	assert.Equal(t, 2, ups)
	assert.Equal(t, 1, downs, "partial project removed before retry")

	apiPort, err := table.Port("api", 8080)
	require.NoError(t, err)
	dbPort, err := table.Port("db", 5432)
	require.NoError(t, err)
	assert.NotEqual(t, burned, apiPort)
	assert.NotEqual(t, burned, dbPort)
	assert.Equal(t, lifecycle.StateReady, env.State())
}

func TestEnvironment_PortRaceExhausted(t *testing.T) {
	f := newFixture(t)
	f.runtime.upFunc = func(call int, _ docker.Project) error {
		return portConflict(60000 + call)
	}
	env := newEnvironment(t, f, testDescriptor())

	_, err := env.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLaunchFailed)
	assert.ErrorIs(t, err, docker.ErrPortAlreadyAllocated)

	var launchErr *LaunchError
	require.True(t, errors.As(err, &launchErr))
	assert.Equal(t, maxLaunchAttempts, launchErr.Attempts)

	ups, downs := f.runtime.counts()
	assert.Equal(t, maxLaunchAttempts, ups)
	assert.Equal(t, maxLaunchAttempts, downs, "two retries plus failure cleanup")
	assert.Equal(t, lifecycle.StateStartupFailed, env.State())
}

func TestEnvironment_ReservationsReleasedAtTeardown(t *testing.T) {
	f := newFixture(t)
	alloc := &countingAllocator{Allocator: ports.NewFreeAllocator(
		coreports.PortRange{Start: 50000, End: 50100}, func(int) error { return nil }, setupTestLogger())}
	opts := f.options()
	opts.Allocator = alloc
	env, err := New(testDescriptor(), opts)
	require.NoError(t, err)
	ctx := context.Background()

	table, err := env.Start(ctx)
	require.NoError(t, err)
	dbPort, err := table.Port("db", 5432)
	require.NoError(t, err)
	assert.Equal(t, 0, alloc.releases())

	require.NoError(t, env.Stop(ctx))
	assert.Equal(t, 1, alloc.releases())

	// Released ports are handed out again
	port, err := alloc.Reserve("other", 1)
	require.NoError(t, err)
	assert.Equal(t, 50000, port)
	assert.Contains(t, []int{50000, 50001}, dbPort)
}

func TestEnvironment_StartTimeoutDuringLaunch(t *testing.T) {
	tests := []struct {
		name      string
		keep      bool
		wantDowns int
	}{
		{name: "removed", keep: false, wantDowns: 1},
		{name: "kept for inspection", keep: true, wantDowns: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.runtime.blockUp = true
			d := testDescriptor()
			d.StartTimeout = 200 * time.Millisecond
			d.KeepOnStartupFailure = tt.keep
			env := newEnvironment(t, f, d)

			_, err := env.Start(context.Background())
			require.Error(t, err)

			var notReady *corereadiness.NotReadyError
			require.True(t, errors.As(err, &notReady))
			assert.True(t, notReady.TimedOut())
			assert.ErrorIs(t, err, ErrLaunchFailed)
			assert.ErrorIs(t, err, context.DeadlineExceeded)

			require.Len(t, notReady.Services, 2)
			assert.Equal(t, "api", notReady.Services[0].Service)
			assert.Equal(t, "db", notReady.Services[1].Service)
			for _, s := range notReady.Services {
				assert.Equal(t, corereadiness.StatePending, s.State)
			}
			assert.Equal(t, []string{"ready to accept connections"}, notReady.Services[1].PendingMarkers)

			require.NotNil(t, env.Report())
			assert.Equal(t, corereadiness.VerdictTimedOut, env.Report().Verdict)
			assert.Equal(t, lifecycle.StateStartupFailed, env.State())
			_, downs := f.runtime.counts()
			assert.Equal(t, tt.wantDowns, downs)
		})
	}
}

func TestEnvironment_LaunchFailure(t *testing.T) {
	f := newFixture(t)
	f.runtime.upFunc = func(int, docker.Project) error {
		return docker.NewDockerError("up", "project", "envtest", "pull access denied", docker.ErrComposeFailed)
	}
	env := newEnvironment(t, f, testDescriptor())
	ctx := context.Background()

	_, err := env.Start(ctx)
	assert.ErrorIs(t, err, ErrLaunchFailed)
	assert.ErrorIs(t, err, docker.ErrComposeFailed)

	ups, downs := f.runtime.counts()
	assert.Equal(t, 1, ups, "only port races are retried")
	assert.Equal(t, 1, downs)

	// Already cleaned up, so Stop has nothing left to remove
	require.NoError(t, env.Stop(ctx))
	_, downs = f.runtime.counts()
	assert.Equal(t, 1, downs)

	_, err = env.Start(ctx)
	assert.ErrorIs(t, err, ErrInvalidState)
}

// =============================================================================
// Readiness Failure Tests
// =============================================================================

func TestEnvironment_NotReady(t *testing.T) {
	tests := []struct {
		name      string
		keep      bool
		wantDowns int
	}{
		{name: "removed", keep: false, wantDowns: 1},
		{name: "kept for inspection", keep: true, wantDowns: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.runtime.logs["db"] = "FATAL: could not start\n"
			d := testDescriptor()
			d.KeepOnStartupFailure = tt.keep
			env := newEnvironment(t, f, d)
			ctx := context.Background()

			_, err := env.Start(ctx)
			require.Error(t, err)
			var notReady *corereadiness.NotReadyError
			require.True(t, errors.As(err, &notReady))
			assert.ErrorIs(t, err, corereadiness.ErrNotReady)
			assert.Equal(t, lifecycle.StateStartupFailed, env.State())

			report := env.Report()
			require.NotNil(t, report)
			status, ok := report.Status("db")
			require.True(t, ok)
			assert.Equal(t, []string{"ready to accept connections"}, status.PendingMarkers)

			_, downs := f.runtime.counts()
			assert.Equal(t, tt.wantDowns, downs)

			// A kept environment goes away on Stop
			require.NoError(t, env.Stop(ctx))
			_, downs = f.runtime.counts()
			assert.Equal(t, 1, downs)
			assert.Equal(t, lifecycle.StateTornDown, env.State())
		})
	}
}

func TestEnvironment_ReadyHook(t *testing.T) {
	f := newFixture(t)
	d := testDescriptor()
	var seen []string
	d.WaitForReady = func(_ context.Context, table *discovery.Table) error {
		seen = table.Services()
		return nil
	}
	env := newEnvironment(t, f, d)

	_, err := env.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"api", "db"}, seen)
}

// =============================================================================
// Configuration Error Tests
// =============================================================================

func TestEnvironment_ConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(d *descriptor.Descriptor)
		wantErr error
	}{
		{
			name:    "undeclared service",
			modify:  func(d *descriptor.Descriptor) { d.Ports["ghost"] = []int{80} },
			wantErr: compose.ErrUnknownService,
		},
		{
			name:    "missing compose file",
			modify:  func(d *descriptor.Descriptor) { d.ComposeFile = "compose.missing.yml" },
			wantErr: composefile.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			d := testDescriptor()
			tt.modify(&d)
			env := newEnvironment(t, f, d)

			_, err := env.Start(context.Background())
			assert.ErrorIs(t, err, descriptor.ErrInvalidDescriptor)
			assert.ErrorIs(t, err, tt.wantErr)

			ups, downs := f.runtime.counts()
			assert.Equal(t, 0, ups)
			assert.Equal(t, 0, downs)
			assert.Equal(t, lifecycle.StateStartupFailed, env.State())
		})
	}
}

func TestNew_Rejects(t *testing.T) {
	f := newFixture(t)

	d := testDescriptor()
	d.IsExternalCompose = true
	d.TryFindExistingEnvironment = true
	_, err := New(d, f.options())
	assert.ErrorIs(t, err, descriptor.ErrConflictingModes)

	opts := f.options()
	opts.Runtime = nil
	_, err = New(testDescriptor(), opts)
	assert.ErrorIs(t, err, ErrNoRuntime)
}

func TestNew_DescriptorSnapshot(t *testing.T) {
	f := newFixture(t)
	d := testDescriptor()
	env := newEnvironment(t, f, d)

	d.Ports["ghost"] = []int{80}
	_, err := env.Start(context.Background())
	require.NoError(t, err)
}

// =============================================================================
// Reused and External Environment Tests
// =============================================================================

func TestEnvironment_Reused(t *testing.T) {
	f := newFixture(t)
	f.runtime.running = true
	d := testDescriptor()
	d.TryFindExistingEnvironment = true
	env := newEnvironment(t, f, d)
	ctx := context.Background()

	table, err := env.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.ModeReused, env.Mode())

	// Serial bindings: api:8080 sorts before db:5432
	apiPort, _ := table.Port("api", 8080)
	dbPort, _ := table.Port("db", 5432)
	assert.Equal(t, 50000, apiPort)
	assert.Equal(t, 50001, dbPort)

	require.NoError(t, env.Stop(ctx))
	ups, downs := f.runtime.counts()
	assert.Equal(t, 0, ups)
	assert.Equal(t, 0, downs, "a reused environment belongs to someone else")
	assert.True(t, f.store.Exists("envtest"))
}

func TestEnvironment_TryFindNotRunning(t *testing.T) {
	f := newFixture(t)
	d := testDescriptor()
	d.TryFindExistingEnvironment = true
	env := newEnvironment(t, f, d)

	table, err := env.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, lifecycle.ModeOwned, env.Mode())
	assert.Equal(t, 1, f.runtime.runningCalls)

	dbPort, _ := table.Port("db", 5432)
	assert.Equal(t, 50001, dbPort, "owned environments that may be reused get serial ports")
	require.NoError(t, env.Stop(context.Background()))
}

func TestEnvironment_DetectFailure(t *testing.T) {
	f := newFixture(t)
	f.runtime.runningErr = docker.ErrConnectionFailed
	d := testDescriptor()
	d.TryFindExistingEnvironment = true
	env := newEnvironment(t, f, d)

	_, err := env.Start(context.Background())
	assert.ErrorIs(t, err, docker.ErrConnectionFailed)
	assert.Equal(t, lifecycle.StateStartupFailed, env.State())
}

func TestEnvironment_External(t *testing.T) {
	f := newFixture(t)
	f.runtime.published = map[string][]docker.PortBinding{
		"db": {{ContainerPort: 5432, HostPort: 49999, Protocol: "tcp", HostIP: "0.0.0.0"}},
	}
	d := testDescriptor()
	d.IsExternalCompose = true
	env := newEnvironment(t, f, d)
	ctx := context.Background()

	table, err := env.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.ModeExternal, env.Mode())
	assert.Equal(t, 1, f.runtime.inspected)

	addr, err := table.Address("db", 5432)
	require.NoError(t, err)
	assert.Equal(t, "localhost:49999", addr)
	addr, err = table.Address("api", 8080)
	require.NoError(t, err)
	assert.Equal(t, "localhost:8080", addr, "uninspectable ports fall back to declared")

	require.NoError(t, env.Stop(ctx))
	ups, downs := f.runtime.counts()
	assert.Equal(t, 0, ups)
	assert.Equal(t, 0, downs)
}

func TestEnvironment_ExternalInspectFails(t *testing.T) {
	f := newFixture(t)
	f.runtime.publishedErr = docker.ErrConnectionFailed
	d := testDescriptor()
	d.IsExternalCompose = true
	env := newEnvironment(t, f, d)

	table, err := env.Start(context.Background())
	require.NoError(t, err)
	addr, err := table.Address("db", 5432)
	require.NoError(t, err)
	assert.Equal(t, "localhost:5432", addr)
}

func TestEnvironment_UnderCompose(t *testing.T) {
	f := newFixture(t)
	opts := f.options()
	opts.UnderCompose = true
	env, err := New(testDescriptor(), opts)
	require.NoError(t, err)

	table, err := env.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, lifecycle.ModeExternal, env.Mode())
	assert.Equal(t, 0, f.runtime.inspected)

	addr, err := table.Address("db", 5432)
	require.NoError(t, err)
	assert.Equal(t, "db:5432", addr)
	assert.Contains(t, f.dialer.addrs, "api:8080")
}

func TestDetectUnderCompose(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"", false},
		{"false", false},
		{"0", false},
		{"true", true},
		{"1", true},
		{"yes", true},
	}
	for _, tt := range tests {
		getenv := func(key string) string {
			if key == UnderComposeVar {
				return tt.value
			}
			return ""
		}
		assert.Equal(t, tt.want, DetectUnderCompose(getenv), tt.value)
	}
}

// =============================================================================
// Teardown Tests
// =============================================================================

func TestEnvironment_TeardownFailure(t *testing.T) {
	f := newFixture(t)
	env := newEnvironment(t, f, testDescriptor())
	ctx := context.Background()

	_, err := env.Start(ctx)
	require.NoError(t, err)

	f.runtime.downErr = docker.ErrTimeout
	err = env.Stop(ctx)
	assert.ErrorIs(t, err, ErrTeardownFailed)
	assert.ErrorIs(t, err, docker.ErrTimeout)
	var teardownErr *TeardownError
	require.True(t, errors.As(err, &teardownErr))
	assert.Equal(t, "envtest", teardownErr.Project)
	assert.Equal(t, lifecycle.StateTeardownFailed, env.State())

	f.runtime.downErr = nil
	require.NoError(t, env.Stop(ctx))
	assert.Equal(t, lifecycle.StateTornDown, env.State())
}

func TestEnvironment_StopBeforeStart(t *testing.T) {
	f := newFixture(t)
	env := newEnvironment(t, f, testDescriptor())

	require.NoError(t, env.Stop(context.Background()))
	assert.Equal(t, lifecycle.StateTornDown, env.State())

	_, err := env.Start(context.Background())
	assert.ErrorIs(t, err, ErrInvalidState)
	ups, downs := f.runtime.counts()
	assert.Equal(t, 0, ups)
	assert.Equal(t, 0, downs)
}

func TestDown(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Write("envtest", []byte("services: {}\n"))
	require.NoError(t, err)

	require.NoError(t, Down(context.Background(), testDescriptor(), f.options()))
	require.Len(t, f.runtime.downs, 1)
	assert.Equal(t, f.store.Path("envtest"), f.runtime.downs[0].File)
	assert.False(t, f.store.Exists("envtest"))

	// Without a persisted file the project is addressed by name only
	require.NoError(t, Down(context.Background(), testDescriptor(), f.options()))
	assert.Empty(t, f.runtime.downs[1].File)
}
