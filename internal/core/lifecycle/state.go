// Package lifecycle holds the environment state machine.
// This is part of the Functional Core - transitions are validated without I/O.
package lifecycle

import (
	"errors"
	"fmt"
	"slices"
)

var ErrInvalidTransition = errors.New("invalid state transition")

// =============================================================================
// Environment State
// =============================================================================

// State is where an environment is in its life.
type State string

const (
	StateNotStarted     State = "not_started"
	StateDetecting      State = "detecting"
	StatePreparing      State = "preparing"
	StateLaunching      State = "launching"
	StateAwaitingReady  State = "awaiting_ready"
	StateReady          State = "ready"
	StateTornDown       State = "torn_down"
	StateStartupFailed  State = "startup_failed"
	StateTeardownFailed State = "teardown_failed"
)

// Mode tells who owns the running containers.
type Mode string

const (
	// ModeOwned environments are launched and torn down by this process.
	ModeOwned Mode = "owned"
	// ModeReused environments were found running from an earlier run.
	ModeReused Mode = "reused"
	// ModeExternal environments are launched by someone else.
	ModeExternal Mode = "external"
)

// =============================================================================
// State Machine
// =============================================================================

// validTransitions defines the allowed state transitions.
var validTransitions = map[State][]State{
	StateNotStarted: {StateDetecting, StateTornDown},
	// External environments skip preparation and launch
	StateDetecting: {StatePreparing, StateAwaitingReady, StateStartupFailed},
	// Reused environments are prepared for discovery but not launched
	StatePreparing: {StateLaunching, StateAwaitingReady, StateStartupFailed},
	// A port race sends the launch back to preparation
	StateLaunching:      {StatePreparing, StateAwaitingReady, StateStartupFailed},
	StateAwaitingReady:  {StateReady, StateStartupFailed},
	StateReady:          {StateTornDown, StateTeardownFailed},
	StateStartupFailed:  {StateTornDown, StateTeardownFailed},
	StateTeardownFailed: {StateTornDown, StateTeardownFailed},
	StateTornDown:       {}, // Terminal state
}

// ValidateTransition checks if a state transition is valid.
func ValidateTransition(from, to State) error {
	if slices.Contains(validTransitions[from], to) {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Startable reports whether Start may run from s.
func (s State) Startable() bool {
	return s == StateNotStarted
}

// Stoppable reports whether teardown has work left to do from s.
func (s State) Stoppable() bool {
	switch s {
	case StateReady, StateStartupFailed, StateTeardownFailed:
		return true
	}
	return false
}
