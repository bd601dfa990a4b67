package descriptor

import (
	"context"
	"time"

	"github.com/artpar/composeenv/internal/core/discovery"
)

// =============================================================================
// Defaults
// =============================================================================

const (
	// DefaultComposeFile is searched for in the working directory and its parents.
	DefaultComposeFile = "docker-compose.yml"
	// DefaultStartTimeout bounds prepare, launch and readiness combined.
	DefaultStartTimeout = 40 * time.Second
	// DefaultStopTimeout bounds teardown.
	DefaultStopTimeout = 20 * time.Second
	// DefaultPollInterval is the delay between TCP probes of one port.
	DefaultPollInterval = 500 * time.Millisecond
	// DefaultDockerHost is the host reported by discovery for published ports.
	DefaultDockerHost = "localhost"
	// DynamicPortStart is the first port of the IANA dynamic range.
	DynamicPortStart = 49152
	// DynamicPortEnd is the last usable TCP port.
	DynamicPortEnd = 65535
)

// AnyService is the marker key matched against the logs of every active service.
const AnyService = "*"

// MarkerOrder selects how a service's readiness markers are matched.
type MarkerOrder string

const (
	// MarkersOrdered requires each marker to appear after the previous one.
	MarkersOrdered MarkerOrder = "ordered"
	// MarkersUnordered requires every marker to appear, in any order.
	MarkersUnordered MarkerOrder = "unordered"
)

// =============================================================================
// Hooks
// =============================================================================

// ReadyFunc imposes application-level readiness conditions once every service
// has passed its port and marker checks. It runs under the remaining start budget.
type ReadyFunc func(ctx context.Context, d *discovery.Table) error

// EnvironmentFunc returns the final environment for a service. existing holds the
// variables declared in the compose file; d holds every reservation made so far.
type EnvironmentFunc func(ctx context.Context, service string, existing map[string]string, d *discovery.Table) (map[string]string, error)

// =============================================================================
// Descriptor
// =============================================================================

// Descriptor declares the shape and policies of a test environment.
// Build one from Defaults and treat it as immutable once handed to an environment.
type Descriptor struct {
	ProjectName string `mapstructure:"project_name"`
	ComposeFile string `mapstructure:"compose_file"`

	// Ports maps service name to its declared container ports.
	Ports map[string][]int `mapstructure:"ports"`
	// ServicesToRemove are dropped from the effective definition.
	ServicesToRemove []string `mapstructure:"services_to_remove"`
	// Markers maps service name (or AnyService) to log lines that signal readiness.
	Markers     map[string][]string `mapstructure:"markers"`
	MarkerOrder MarkerOrder         `mapstructure:"marker_order"`
	// IgnorePortListening lists declared ports that are not waited on.
	IgnorePortListening map[string][]int `mapstructure:"ignore_port_listening"`

	StartTimeout time.Duration `mapstructure:"start_timeout"`
	StopTimeout  time.Duration `mapstructure:"stop_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`

	GenerateImageBasedCompose  bool `mapstructure:"generate_image_based_compose"`
	WaitForPortsListen         bool `mapstructure:"wait_for_ports_listen"`
	DownOnComplete             bool `mapstructure:"down_on_complete"`
	TryFindExistingEnvironment bool `mapstructure:"try_find_existing_environment"`
	IsExternalCompose          bool `mapstructure:"is_external_compose"`
	// KeepOnStartupFailure leaves an environment that never became ready
	// running for post-mortem inspection.
	KeepOnStartupFailure bool `mapstructure:"keep_on_startup_failure"`

	DockerHost     string `mapstructure:"docker_host"`
	PortRangeStart int    `mapstructure:"port_range_start"`
	PortRangeEnd   int    `mapstructure:"port_range_end"`

	WaitForReady ReadyFunc       `mapstructure:"-"`
	Environment  EnvironmentFunc `mapstructure:"-"`
}
