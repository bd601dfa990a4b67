package readiness

import (
	"slices"

	"github.com/artpar/composeenv/internal/core/descriptor"
)

// Tracker is the readiness state machine of one plan entry:
//
//	Pending → PortConfirmed → MarkerConfirmed → Ready
//
// Steps without anything to check are passed through immediately. A Tracker is
// not safe for concurrent use; each belongs to a single waiter goroutine until
// that goroutine finishes.
type Tracker struct {
	plan    ServicePlan
	ports   []int
	markers *MarkerMatcher
	state   State
}

// NewTracker creates a tracker for a plan entry.
func NewTracker(plan ServicePlan, order descriptor.MarkerOrder) *Tracker {
	t := &Tracker{
		plan:    plan,
		ports:   slices.Clone(plan.Ports),
		markers: NewMarkerMatcher(plan.Markers, order),
	}
	t.advance()
	return t
}

// Name returns the plan entry's service name.
func (t *Tracker) Name() string { return t.plan.Name }

// State returns the current state.
func (t *Tracker) State() State { return t.state }

// ConfirmPort records that a declared port accepted a connection.
func (t *Tracker) ConfirmPort(port int) State {
	t.ports = slices.DeleteFunc(t.ports, func(p int) bool { return p == port })
	t.advance()
	return t.state
}

// FeedLine matches a log line against the pending markers. Lines are matched
// regardless of state so markers logged before the ports opened still count.
func (t *Tracker) FeedLine(line string) State {
	if !t.markers.Done() {
		t.markers.Feed(line)
	}
	t.advance()
	return t.state
}

// Promote marks a confirmed service ready. It has no effect on a service whose
// own checks have not passed.
func (t *Tracker) Promote() State {
	if t.state == StateMarkerConfirmed {
		t.state = StateReady
	}
	return t.state
}

// PendingPorts returns the ports not yet confirmed.
func (t *Tracker) PendingPorts() []int { return slices.Clone(t.ports) }

// PendingMarkers returns the markers not yet matched.
func (t *Tracker) PendingMarkers() []string { return t.markers.Pending() }

// Status returns a snapshot for reporting.
func (t *Tracker) Status() ServiceStatus {
	return ServiceStatus{
		Service:        t.plan.Name,
		State:          t.state,
		PendingPorts:   t.PendingPorts(),
		PendingMarkers: t.PendingMarkers(),
	}
}

func (t *Tracker) advance() {
	if t.state >= StateMarkerConfirmed {
		return
	}
	if len(t.ports) > 0 {
		return
	}
	t.state = StatePortConfirmed
	if t.markers.Done() {
		t.state = StateMarkerConfirmed
	}
}
