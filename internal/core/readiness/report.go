package readiness

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

var (
	ErrNotReady        = errors.New("environment not ready")
	ErrLogStreamClosed = errors.New("log stream ended before every marker appeared")
	ErrHookFailed      = errors.New("readiness hook failed")
)

// ServiceStatus is the readiness of one plan entry at the end of waiting.
type ServiceStatus struct {
	Service        string
	State          State
	PendingPorts   []int
	PendingMarkers []string
}

// Report is the outcome of waiting for an environment.
type Report struct {
	Verdict  Verdict
	Services []ServiceStatus
	Elapsed  time.Duration
}

// Pending returns the entries whose own checks have not passed. Entries held
// back only by the readiness hook are not listed.
func (r *Report) Pending() []ServiceStatus {
	var pending []ServiceStatus
	for _, s := range r.Services {
		if s.State < StateMarkerConfirmed {
			pending = append(pending, s)
		}
	}
	return pending
}

// Status returns the entry for a service.
func (r *Report) Status(service string) (ServiceStatus, bool) {
	for _, s := range r.Services {
		if s.Service == service {
			return s, true
		}
	}
	return ServiceStatus{}, false
}

// Aggregate builds the report over every tracker. The verdict is Ready only
// when every tracker is ready; otherwise a deadline in cause makes it TimedOut.
func Aggregate(trackers []*Tracker, cause error, elapsed time.Duration) *Report {
	report := &Report{
		Verdict:  VerdictReady,
		Services: make([]ServiceStatus, 0, len(trackers)),
		Elapsed:  elapsed,
	}
	for _, t := range trackers {
		status := t.Status()
		report.Services = append(report.Services, status)
		if status.State != StateReady {
			report.Verdict = VerdictNotReady
		}
	}
	if cause != nil && report.Verdict == VerdictReady {
		report.Verdict = VerdictNotReady
	}
	if report.Verdict != VerdictReady && errors.Is(cause, context.DeadlineExceeded) {
		report.Verdict = VerdictTimedOut
	}
	return report
}

// Unstarted reports a plan whose checks never began, e.g. because the start
// budget ran out while the environment was still being launched. Every entry
// is pending with all of its ports and markers.
func Unstarted(plan Plan, cause error, elapsed time.Duration) *Report {
	report := &Report{
		Verdict:  VerdictNotReady,
		Services: make([]ServiceStatus, 0, len(plan.Services)),
		Elapsed:  elapsed,
	}
	for _, sp := range plan.Services {
		report.Services = append(report.Services, ServiceStatus{
			Service:        sp.Name,
			State:          StatePending,
			PendingPorts:   slices.Clone(sp.Ports),
			PendingMarkers: slices.Clone(sp.Markers),
		})
	}
	if errors.Is(cause, context.DeadlineExceeded) {
		report.Verdict = VerdictTimedOut
	}
	return report
}

// =============================================================================
// NotReadyError
// =============================================================================

// NotReadyError reports an environment that did not become ready. Services
// lists every entry that was still pending with what it was waiting for.
type NotReadyError struct {
	Verdict  Verdict
	Services []ServiceStatus
	Cause    error
}

// NewNotReadyError creates a NotReadyError from a report.
func NewNotReadyError(report *Report, cause error) *NotReadyError {
	return &NotReadyError{
		Verdict:  report.Verdict,
		Services: report.Pending(),
		Cause:    cause,
	}
}

func (e *NotReadyError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "environment not ready (%s)", e.Verdict)
	for i, s := range e.Services {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s %s", s.Service, s.State)
		if len(s.PendingPorts) > 0 {
			fmt.Fprintf(&b, " ports=%v", s.PendingPorts)
		}
		if len(s.PendingMarkers) > 0 {
			fmt.Fprintf(&b, " markers=%q", s.PendingMarkers)
		}
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *NotReadyError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrNotReady}
	}
	return []error{ErrNotReady, e.Cause}
}

// TimedOut reports whether the start budget ran out.
func (e *NotReadyError) TimedOut() bool {
	return e.Verdict == VerdictTimedOut
}
