package descriptor

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/artpar/composeenv/internal/core/discovery"
)

// Defaults returns a descriptor with every field at its documented default.
// Callers set ProjectName, Ports and any overrides on the returned value.
func Defaults() Descriptor {
	return Descriptor{
		ComposeFile:               DefaultComposeFile,
		Ports:                     map[string][]int{},
		Markers:                   map[string][]string{},
		MarkerOrder:               MarkersOrdered,
		IgnorePortListening:       map[string][]int{},
		StartTimeout:              DefaultStartTimeout,
		StopTimeout:               DefaultStopTimeout,
		PollInterval:              DefaultPollInterval,
		GenerateImageBasedCompose: true,
		WaitForPortsListen:        true,
		DownOnComplete:            true,
		DockerHost:                DefaultDockerHost,
		PortRangeStart:            DynamicPortStart,
		PortRangeEnd:              DynamicPortEnd,
	}
}

// Clone returns a deep copy so the caller can no longer mutate the snapshot.
func (d Descriptor) Clone() Descriptor {
	c := d
	c.Ports = cloneIntMap(d.Ports)
	c.IgnorePortListening = cloneIntMap(d.IgnorePortListening)
	c.ServicesToRemove = slices.Clone(d.ServicesToRemove)
	c.Markers = make(map[string][]string, len(d.Markers))
	for k, v := range d.Markers {
		c.Markers[k] = slices.Clone(v)
	}
	return c
}

func cloneIntMap(in map[string][]int) map[string][]int {
	out := make(map[string][]int, len(in))
	for k, v := range in {
		out[k] = slices.Clone(v)
	}
	return out
}

// =============================================================================
// Validation
// =============================================================================

// Validate checks the descriptor for configuration errors.
// Returns the first error found as a *ConfigError.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.ProjectName) == "" {
		return NewConfigError("project_name", "project name is required", ErrMissingProjectName)
	}
	if strings.TrimSpace(d.ComposeFile) == "" {
		return NewConfigError("compose_file", "compose file name is required", ErrMissingComposeFile)
	}
	if d.StartTimeout <= 0 {
		return NewConfigError("start_timeout", "start timeout must be positive", ErrInvalidTimeout)
	}
	if d.StopTimeout <= 0 {
		return NewConfigError("stop_timeout", "stop timeout must be positive", ErrInvalidTimeout)
	}
	if d.PollInterval <= 0 {
		return NewConfigError("poll_interval", "poll interval must be positive", ErrInvalidTimeout)
	}
	if d.IsExternalCompose && d.TryFindExistingEnvironment {
		return NewConfigError("is_external_compose", "cannot be combined with try_find_existing_environment", ErrConflictingModes)
	}
	if d.PortRangeStart < 1 || d.PortRangeEnd > 65535 || d.PortRangeStart > d.PortRangeEnd {
		return NewConfigError("port_range_start",
			fmt.Sprintf("range %d-%d is not within 1-65535", d.PortRangeStart, d.PortRangeEnd),
			ErrInvalidRange)
	}
	switch d.MarkerOrder {
	case MarkersOrdered, MarkersUnordered:
	default:
		return NewConfigError("marker_order", fmt.Sprintf("unknown policy %q", d.MarkerOrder), ErrInvalidMarkerPolicy)
	}

	for _, service := range d.PortServices() {
		if err := validatePorts("ports."+service, d.Ports[service]); err != nil {
			return err
		}
	}
	for service, ports := range d.IgnorePortListening {
		for i, p := range ports {
			if p < 1 || p > 65535 {
				return NewConfigError(fmt.Sprintf("ignore_port_listening.%s[%d]", service, i), "port must be within 1-65535", ErrInvalidPort)
			}
		}
	}
	for service, markers := range d.Markers {
		for i, m := range markers {
			if m == "" {
				return NewConfigError(fmt.Sprintf("markers.%s[%d]", service, i), "marker is empty", ErrEmptyMarker)
			}
		}
	}

	for _, removed := range d.ServicesToRemove {
		if _, ok := d.Ports[removed]; ok {
			return NewConfigError("services_to_remove", fmt.Sprintf("service %q declares ports", removed), ErrConflictingExclude)
		}
		if _, ok := d.Markers[removed]; ok {
			return NewConfigError("services_to_remove", fmt.Sprintf("service %q declares readiness markers", removed), ErrConflictingExclude)
		}
	}

	return nil
}

func validatePorts(field string, ports []int) error {
	seen := make(map[int]bool, len(ports))
	for i, p := range ports {
		if p < 1 || p > 65535 {
			return NewConfigError(fmt.Sprintf("%s[%d]", field, i), "port must be within 1-65535", ErrInvalidPort)
		}
		if seen[p] {
			return NewConfigError(fmt.Sprintf("%s[%d]", field, i), fmt.Sprintf("port %d declared twice", p), ErrDuplicatePort)
		}
		seen[p] = true
	}
	return nil
}

// =============================================================================
// Queries
// =============================================================================

// PortServices returns the services with declared ports, sorted by name.
func (d Descriptor) PortServices() []string {
	var names []string
	for name := range d.Ports {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// IsRemoved reports whether the service is listed in ServicesToRemove.
func (d Descriptor) IsRemoved(service string) bool {
	return slices.Contains(d.ServicesToRemove, service)
}

// IgnoresPort reports whether waiting on the service's port is disabled.
func (d Descriptor) IgnoresPort(service string, port int) bool {
	return slices.Contains(d.IgnorePortListening[service], port)
}

// WaitPorts returns the declared ports of a service that must be listening
// before the service is ready. Empty when WaitForPortsListen is disabled.
func (d Descriptor) WaitPorts(service string) []int {
	if !d.WaitForPortsListen {
		return nil
	}
	var ports []int
	for _, p := range d.Ports[service] {
		if !d.IgnoresPort(service, p) {
			ports = append(ports, p)
		}
	}
	return ports
}

// ResolveEnvironment applies the Environment hook, or returns existing unchanged
// when no hook is configured.
func (d Descriptor) ResolveEnvironment(ctx context.Context, service string, existing map[string]string, table *discovery.Table) (map[string]string, error) {
	if d.Environment == nil {
		return existing, nil
	}
	return d.Environment(ctx, service, maps.Clone(existing), table)
}
