// Package ports hands out host ports for container port mappings.
package ports

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	coreports "github.com/artpar/composeenv/internal/core/ports"
)

// Allocator reserves host ports for declared container ports.
type Allocator interface {
	// Reserve returns the host port for a service's declared port. Reserving
	// the same pair twice returns the same port.
	Reserve(service string, declared int) (int, error)
	// Burn excludes a host port from future reservations, e.g. after the
	// runtime reported it as taken by another process.
	Burn(hostPort int)
	// ReleaseAll drops every reservation.
	ReleaseAll()
	// Deterministic reports whether reservations are a pure function of the
	// declared ports.
	Deterministic() bool
}

// ProbeFunc checks whether a host port can currently be bound.
type ProbeFunc func(port int) error

// ListenProbe binds the port on all interfaces and releases it immediately.
func ListenProbe(port int) error {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return err
	}
	return ln.Close()
}

// =============================================================================
// Free Allocator
// =============================================================================

// FreeAllocator scans the range upward and hands out ports that pass a bind
// probe. It guarantees uniqueness within one run; across processes the OS bind
// check is the only guard, so callers must treat a later bind conflict as
// retryable.
type FreeAllocator struct {
	mu       sync.Mutex
	rng      coreports.PortRange
	probe    ProbeFunc
	next     int
	reserved map[coreports.Key]int
	used     map[int]bool // reserved in this round
	burned   map[int]bool // taken elsewhere, never handed out again
	logger   *slog.Logger
}

// NewFreeAllocator creates a free-port allocator. probe defaults to ListenProbe.
func NewFreeAllocator(rng coreports.PortRange, probe ProbeFunc, logger *slog.Logger) *FreeAllocator {
	if probe == nil {
		probe = ListenProbe
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FreeAllocator{
		rng:      rng,
		probe:    probe,
		next:     rng.Start,
		reserved: make(map[coreports.Key]int),
		used:     make(map[int]bool),
		burned:   make(map[int]bool),
		logger:   logger.With("component", "port_allocator", "strategy", "free"),
	}
}

// Reserve implements Allocator.
func (a *FreeAllocator) Reserve(service string, declared int) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := coreports.Key{Service: service, Port: declared}
	if port, ok := a.reserved[key]; ok {
		return port, nil
	}

	excluded := make(map[int]bool, len(a.used)+len(a.burned))
	for port := range a.used {
		excluded[port] = true
	}
	for port := range a.burned {
		excluded[port] = true
	}

	probeFailures := 0
	from := a.next
	for {
		candidate, err := coreports.NextCandidate(from, excluded, a.rng)
		if err != nil {
			return 0, NewAllocationError(service, declared,
				fmt.Sprintf("range %d-%d (%d ports) exhausted after %d failed bind probes",
					a.rng.Start, a.rng.End, a.rng.Size(), probeFailures),
				probeFailures > 0, err)
		}
		if err := a.probe(candidate); err != nil {
			probeFailures++
			a.logger.Debug("port busy", "port", candidate, "error", err)
			from = candidate + 1
			continue
		}

		a.reserved[key] = candidate
		a.used[candidate] = true
		a.next = candidate + 1
		a.logger.Debug("reserved port", "service", service, "declared", declared, "host_port", candidate)
		return candidate, nil
	}
}

// Burn implements Allocator.
func (a *FreeAllocator) Burn(hostPort int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.burned[hostPort] = true
}

// ReleaseAll implements Allocator. Burned ports stay excluded.
func (a *FreeAllocator) ReleaseAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.used)
	a.reserved = make(map[coreports.Key]int)
	a.next = a.rng.Start
}

// Deterministic implements Allocator.
func (a *FreeAllocator) Deterministic() bool { return false }

// =============================================================================
// Serial Allocator
// =============================================================================

// SerialAllocator maps every declared port to a fixed offset from the range
// start. No sockets are probed, so two runs with the same declared ports agree
// on every binding.
type SerialAllocator struct {
	rng  coreports.PortRange
	keys []coreports.Key
}

// NewSerialAllocator creates a deterministic allocator over the declared ports.
func NewSerialAllocator(rng coreports.PortRange, declared map[string][]int) *SerialAllocator {
	return &SerialAllocator{
		rng:  rng,
		keys: coreports.SortedKeys(declared),
	}
}

// Reserve implements Allocator.
func (a *SerialAllocator) Reserve(service string, declared int) (int, error) {
	port, err := coreports.SerialPort(a.keys, coreports.Key{Service: service, Port: declared}, a.rng)
	if err != nil {
		return 0, NewAllocationError(service, declared, err.Error(), false, err)
	}
	return port, nil
}

// Burn implements Allocator. Serial bindings are fixed, so nothing changes.
func (a *SerialAllocator) Burn(int) {}

// ReleaseAll implements Allocator.
func (a *SerialAllocator) ReleaseAll() {}

// Deterministic implements Allocator.
func (a *SerialAllocator) Deterministic() bool { return true }
