// Package readiness decides when a started environment may be handed to tests.
// It holds no I/O: the shell feeds it probe results and log lines and it
// reports per-service state and the aggregate verdict.
package readiness

import (
	"slices"
	"time"

	"github.com/artpar/composeenv/internal/core/descriptor"
)

// =============================================================================
// State
// =============================================================================

// State is the readiness of one service. It only moves forward.
type State int

const (
	// StatePending means declared ports are still being probed.
	StatePending State = iota
	// StatePortConfirmed means every waited port accepted a connection.
	StatePortConfirmed
	// StateMarkerConfirmed means the service's own checks passed and the
	// environment-wide readiness hook has not yet run.
	StateMarkerConfirmed
	// StateReady means the service may be used by tests.
	StateReady
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StatePortConfirmed:
		return "port_confirmed"
	case StateMarkerConfirmed:
		return "marker_confirmed"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Verdict is the aggregate outcome of waiting.
type Verdict string

const (
	VerdictReady    Verdict = "ready"
	VerdictNotReady Verdict = "not_ready"
	VerdictTimedOut Verdict = "timed_out"
)

// =============================================================================
// Plan
// =============================================================================

// ServicePlan lists what must be observed before one service is ready.
type ServicePlan struct {
	Name string
	// Ports are declared container ports that must accept TCP connections.
	Ports []int
	// Markers must appear in the service's log.
	Markers []string
	// Shared plans match markers against the merged log of every service.
	Shared bool
}

// Plan is everything the waiter checks, derived from a descriptor and the
// services that are actually running.
type Plan struct {
	Services     []ServicePlan
	Order        descriptor.MarkerOrder
	PollInterval time.Duration
	// Timeout bounds the wait when positive. Callers usually pass a context
	// deadline instead.
	Timeout time.Duration
	Hook    descriptor.ReadyFunc
	// Skipped lists marker keys that name no running service.
	Skipped []string
}

// NewPlan builds a plan for the active services, in the order given.
// Markers keyed by AnyService become one shared plan placed last.
func NewPlan(d descriptor.Descriptor, active []string) Plan {
	plan := Plan{
		Order:        d.MarkerOrder,
		PollInterval: d.PollInterval,
		Hook:         d.WaitForReady,
	}
	if plan.Order == "" {
		plan.Order = descriptor.MarkersOrdered
	}
	if plan.PollInterval <= 0 {
		plan.PollInterval = descriptor.DefaultPollInterval
	}

	for _, name := range active {
		plan.Services = append(plan.Services, ServicePlan{
			Name:    name,
			Ports:   d.WaitPorts(name),
			Markers: slices.Clone(d.Markers[name]),
		})
	}

	for key := range d.Markers {
		if key != descriptor.AnyService && !slices.Contains(active, key) {
			plan.Skipped = append(plan.Skipped, key)
		}
	}
	slices.Sort(plan.Skipped)

	if shared := d.Markers[descriptor.AnyService]; len(shared) > 0 {
		plan.Services = append(plan.Services, ServicePlan{
			Name:    descriptor.AnyService,
			Markers: slices.Clone(shared),
			Shared:  true,
		})
	}
	return plan
}

// LogServices returns the services whose logs feed a plan entry.
func (p Plan) LogServices(sp ServicePlan) []string {
	if !sp.Shared {
		return []string{sp.Name}
	}
	var names []string
	for _, s := range p.Services {
		if !s.Shared {
			names = append(names, s.Name)
		}
	}
	return names
}
