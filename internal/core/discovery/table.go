// Package discovery maps service names to the network location tests and
// readiness hooks use to reach them.
//
// The table is written by the environment orchestrator while it starts an
// environment and frozen by Finalize once the environment is ready. Readers
// choose between fail-fast lookups (Resolve) and blocking ones (Wait).
package discovery

import (
	"context"
	"fmt"
	"maps"
	"net"
	"slices"
	"strconv"
	"sync"
)

// Endpoint is the resolved location of one service.
type Endpoint struct {
	Host string
	// Ports maps declared container port to host port.
	Ports map[int]int
}

// Address returns host:port for a declared container port.
func (e Endpoint) Address(declared int) (string, error) {
	hostPort, ok := e.Ports[declared]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownPort, declared)
	}
	return net.JoinHostPort(e.Host, strconv.Itoa(hostPort)), nil
}

// Table is a concurrency-safe service → Endpoint lookup.
type Table struct {
	mu        sync.RWMutex
	entries   map[string]Endpoint
	waiters   map[string]chan struct{}
	final     chan struct{}
	finalized bool
}

// NewTable creates an empty, writable table.
func NewTable() *Table {
	return &Table{
		entries: make(map[string]Endpoint),
		waiters: make(map[string]chan struct{}),
		final:   make(chan struct{}),
	}
}

// Populate adds or extends the entry of a service. Ports are merged into any
// ports already known for the service; a non-empty host replaces the old one.
func (t *Table) Populate(service, host string, ports map[int]int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.finalized {
		return fmt.Errorf("populate %s: %w", service, ErrFinalized)
	}

	entry, ok := t.entries[service]
	if !ok {
		entry = Endpoint{Ports: make(map[int]int, len(ports))}
	}
	if host != "" {
		entry.Host = host
	}
	maps.Copy(entry.Ports, ports)
	t.entries[service] = entry

	if ch, waiting := t.waiters[service]; waiting {
		close(ch)
		delete(t.waiters, service)
	}
	return nil
}

// Finalize freezes the table. Blocked Wait calls for absent services return.
// Calling Finalize more than once is a no-op.
func (t *Table) Finalize() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finalized {
		return
	}
	t.finalized = true
	close(t.final)
}

// Finalized reports whether the table is frozen.
func (t *Table) Finalized() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.finalized
}

// Resolve returns the endpoint of a service without blocking.
func (t *Table) Resolve(service string) (Endpoint, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entry, ok := t.entries[service]
	if !ok {
		if t.finalized {
			return Endpoint{}, fmt.Errorf("resolve %s: %w", service, ErrUnknownService)
		}
		return Endpoint{}, &NotYetResolvedError{Service: service}
	}
	return copyEndpoint(entry), nil
}

// Wait blocks until the service is populated, the table is finalized, or ctx
// is done.
func (t *Table) Wait(ctx context.Context, service string) (Endpoint, error) {
	t.mu.Lock()
	if entry, ok := t.entries[service]; ok {
		t.mu.Unlock()
		return copyEndpoint(entry), nil
	}
	if t.finalized {
		t.mu.Unlock()
		return Endpoint{}, fmt.Errorf("resolve %s: %w", service, ErrUnknownService)
	}
	ch, ok := t.waiters[service]
	if !ok {
		ch = make(chan struct{})
		t.waiters[service] = ch
	}
	final := t.final
	t.mu.Unlock()

	select {
	case <-ctx.Done():
		return Endpoint{}, ctx.Err()
	case <-ch:
	case <-final:
	}
	return t.Resolve(service)
}

// Port returns the host port bound to a declared container port.
func (t *Table) Port(service string, declared int) (int, error) {
	entry, err := t.Resolve(service)
	if err != nil {
		return 0, err
	}
	hostPort, ok := entry.Ports[declared]
	if !ok {
		return 0, fmt.Errorf("%s: %w: %d", service, ErrUnknownPort, declared)
	}
	return hostPort, nil
}

// Address returns host:port for a declared container port of a service.
func (t *Table) Address(service string, declared int) (string, error) {
	entry, err := t.Resolve(service)
	if err != nil {
		return "", err
	}
	addr, err := entry.Address(declared)
	if err != nil {
		return "", fmt.Errorf("%s: %w", service, err)
	}
	return addr, nil
}

// Services returns the names of all populated services, sorted.
func (t *Table) Services() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var names []string
	for name := range t.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Snapshot returns a copy of every entry.
func (t *Table) Snapshot() map[string]Endpoint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]Endpoint, len(t.entries))
	for name, entry := range t.entries {
		out[name] = copyEndpoint(entry)
	}
	return out
}

func copyEndpoint(e Endpoint) Endpoint {
	return Endpoint{Host: e.Host, Ports: maps.Clone(e.Ports)}
}
