package compose

import (
	"maps"
	"slices"

	"github.com/compose-spec/compose-go/v2/types"
)

// =============================================================================
// Source
// =============================================================================

// Source is a compose file as read from disk.
type Source struct {
	Filename    string
	Content     []byte
	WorkingDir  string            // Relative paths resolve against this directory
	Environment map[string]string // Variables available for ${VAR} interpolation
	ProjectName string
}

// =============================================================================
// Definition
// =============================================================================

// Definition is a loaded compose project plus the order its services were
// declared in, which compose-go does not retain.
type Definition struct {
	Project *types.Project
	// Order lists service names in declaration order.
	Order []string
	// Dropped lists services removed by Transform, in declaration order.
	Dropped []string
}

// Services returns the names of the services present, in declaration order.
func (d *Definition) Services() []string {
	names := make([]string, 0, len(d.Project.Services))
	for _, name := range d.Order {
		if _, ok := d.Project.Services[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

// Has reports whether the service is present.
func (d *Definition) Has(name string) bool {
	_, ok := d.Project.Services[name]
	return ok
}

// Declared reports whether the service appeared in the source definition,
// including services Transform dropped.
func (d *Definition) Declared(name string) bool {
	return slices.Contains(d.Order, name)
}

// Environment returns a service's resolved environment. Variables declared
// without a value are omitted.
func (d *Definition) Environment(name string) map[string]string {
	svc, ok := d.Project.Services[name]
	if !ok {
		return nil
	}
	env := make(map[string]string, len(svc.Environment))
	for k, v := range svc.Environment {
		if v != nil {
			env[k] = *v
		}
	}
	return env
}

// MarshalYAML renders the definition as a self-contained compose file.
func (d *Definition) MarshalYAML() ([]byte, error) {
	return d.Project.MarshalYAML()
}

// IsImageBased reports whether a service runs a published image rather than
// one built from source.
func IsImageBased(svc types.ServiceConfig) bool {
	return svc.Build == nil && svc.Image != ""
}

// clone copies the project with every service deep enough for Transform to
// mutate ports, environment and dependencies without touching the original.
func (d *Definition) clone() *Definition {
	project := *d.Project
	project.Services = make(types.Services, len(d.Project.Services))
	for name, svc := range d.Project.Services {
		svc.Ports = slices.Clone(svc.Ports)
		svc.Environment = maps.Clone(svc.Environment)
		svc.DependsOn = maps.Clone(svc.DependsOn)
		svc.Links = slices.Clone(svc.Links)
		project.Services[name] = svc
	}
	return &Definition{
		Project: &project,
		Order:   slices.Clone(d.Order),
		Dropped: slices.Clone(d.Dropped),
	}
}
