package compose

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/artpar/composeenv/internal/core/descriptor"
	"github.com/artpar/composeenv/internal/core/discovery"
	"github.com/compose-spec/compose-go/v2/types"
)

// ReserveFunc returns the host port for a service's declared container port.
type ReserveFunc func(service string, declared int) (int, error)

// TransformInput carries everything Transform needs besides the source definition.
type TransformInput struct {
	Descriptor descriptor.Descriptor
	Reserve    ReserveFunc
	// Discovery receives one entry per remaining service. Environment hooks
	// read from it.
	Discovery *discovery.Table
	// Host is recorded in Discovery. Defaults to Descriptor.DockerHost.
	Host string
}

// =============================================================================
// Transform
// =============================================================================

// Transform derives the effective definition from a parsed one:
//  1. drop build-from-source services when GenerateImageBasedCompose is set
//  2. drop ServicesToRemove and prune references to every dropped service
//  3. publish each declared port on its reserved host port and record it in Discovery
//  4. resolve environment overrides in dependency order
//
// The input definition is left untouched.
func Transform(ctx context.Context, def *Definition, in TransformInput) (*Definition, error) {
	if in.Reserve == nil {
		return nil, &TransformError{Step: "ports", Err: ErrPortReservation}
	}
	if in.Discovery == nil {
		in.Discovery = discovery.NewTable()
	}
	if in.Host == "" {
		in.Host = in.Descriptor.DockerHost
	}

	out := def.clone()

	if in.Descriptor.GenerateImageBasedCompose {
		for _, name := range out.Services() {
			if !IsImageBased(out.Project.Services[name]) {
				out.drop(name)
			}
		}
	}
	for _, name := range in.Descriptor.ServicesToRemove {
		if out.Has(name) {
			out.drop(name)
		}
	}
	out.pruneReferences()

	if err := out.publishPorts(in); err != nil {
		return nil, err
	}
	if err := out.resolveEnvironment(ctx, in); err != nil {
		return nil, err
	}

	out.Project = out.Project.WithoutUnnecessaryResources()
	return out, nil
}

func (d *Definition) drop(name string) {
	delete(d.Project.Services, name)
	if !slices.Contains(d.Dropped, name) {
		d.Dropped = append(d.Dropped, name)
	}
}

// pruneReferences removes depends_on and links entries that point at services
// no longer present.
func (d *Definition) pruneReferences() {
	for name, svc := range d.Project.Services {
		for dep := range svc.DependsOn {
			if !d.Has(dep) {
				delete(svc.DependsOn, dep)
			}
		}
		svc.Links = slices.DeleteFunc(svc.Links, func(link string) bool {
			target, _, _ := strings.Cut(link, ":")
			return !d.Has(target)
		})
		d.Project.Services[name] = svc
	}
}

// =============================================================================
// Ports
// =============================================================================

func (d *Definition) publishPorts(in TransformInput) error {
	desc := in.Descriptor

	for _, name := range desc.PortServices() {
		if !d.Declared(name) {
			return &TransformError{Step: "ports", Service: name, Err: ErrUnknownService}
		}
	}

	for _, name := range d.Services() {
		svc := d.Project.Services[name]
		declared := desc.Ports[name]
		bindings := make(map[int]int, len(declared))

		for _, port := range declared {
			hostPort, err := in.Reserve(name, port)
			if err != nil {
				return &TransformError{Step: "ports", Service: name, Err: fmt.Errorf("%w: %w", ErrPortReservation, err)}
			}
			bindings[port] = hostPort
		}

		svc.Ports = publish(svc.Ports, bindings)
		d.Project.Services[name] = svc

		if err := in.Discovery.Populate(name, in.Host, bindings); err != nil {
			return &TransformError{Step: "ports", Service: name, Err: err}
		}
	}
	return nil
}

// publish binds every declared tcp target to its reserved host port. Mappings
// for other targets lose any fixed host port so the runtime picks one.
func publish(existing []types.ServicePortConfig, bindings map[int]int) []types.ServicePortConfig {
	bound := make(map[int]bool, len(bindings))
	out := make([]types.ServicePortConfig, 0, len(existing)+len(bindings))

	for _, p := range existing {
		hostPort, declared := bindings[int(p.Target)]
		switch {
		case declared && isTCP(p.Protocol):
			if bound[int(p.Target)] {
				continue
			}
			p.Published = strconv.Itoa(hostPort)
			p.Protocol = "tcp"
			bound[int(p.Target)] = true
		default:
			p.Published = ""
		}
		out = append(out, p)
	}

	targets := make([]int, 0, len(bindings))
	for target := range bindings {
		if !bound[target] {
			targets = append(targets, target)
		}
	}
	slices.Sort(targets)
	for _, target := range targets {
		out = append(out, types.ServicePortConfig{
			Mode:      "ingress",
			Target:    uint32(target),
			Published: strconv.Itoa(bindings[target]),
			Protocol:  "tcp",
		})
	}
	return out
}

// =============================================================================
// Environment
// =============================================================================

func (d *Definition) resolveEnvironment(ctx context.Context, in TransformInput) error {
	order, err := d.DependencyOrder()
	if err != nil {
		return &TransformError{Step: "ordering", Err: err}
	}

	for _, name := range order {
		if err := ctx.Err(); err != nil {
			return &TransformError{Step: "environment", Service: name, Err: err}
		}

		svc := d.Project.Services[name]
		resolved, err := in.Descriptor.ResolveEnvironment(ctx, name, d.Environment(name), in.Discovery)
		if err != nil {
			return &TransformError{Step: "environment", Service: name, Err: fmt.Errorf("%w: %w", ErrEnvironmentOverride, err)}
		}

		env := make(types.MappingWithEquals, len(svc.Environment)+len(resolved))
		// Variables passed through from the host have no value to override
		for k, v := range svc.Environment {
			if v == nil {
				env[k] = nil
			}
		}
		for k, v := range resolved {
			value := v
			env[k] = &value
		}
		svc.Environment = env
		d.Project.Services[name] = svc
	}
	return nil
}
