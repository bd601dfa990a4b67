// Package ports contains the pure arithmetic behind host port allocation.
// This is part of the Functional Core - no sockets are opened here.
package ports

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
)

var (
	ErrNoAvailablePorts = errors.New("no available ports in range")
	ErrUndeclaredPort   = errors.New("port was not declared")
)

// PortRange defines the host ports an allocator may hand out.
type PortRange struct {
	Start int // Inclusive, e.g., 49152
	End   int // Inclusive, e.g., 65535
}

// Size returns the number of ports in the range.
func (r PortRange) Size() int {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

// Contains checks if a port is within the range.
func (r PortRange) Contains(port int) bool {
	return port >= r.Start && port <= r.End
}

// NextCandidate finds the first port at or after from that is not in used.
// Pure function - takes used ports as input, returns the candidate port.
func NextCandidate(from int, used map[int]bool, portRange PortRange) (int, error) {
	if from < portRange.Start {
		from = portRange.Start
	}
	for port := from; port <= portRange.End; port++ {
		if !used[port] {
			return port, nil
		}
	}
	return 0, ErrNoAvailablePorts
}

// =============================================================================
// Serial Allocation
// =============================================================================

// Key identifies one declared container port of one service.
type Key struct {
	Service string
	Port    int
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d", k.Service, k.Port)
}

// SortedKeys flattens service → ports into keys ordered by service name then port.
func SortedKeys(declared map[string][]int) []Key {
	var keys []Key
	for service, ports := range declared {
		for _, p := range ports {
			keys = append(keys, Key{Service: service, Port: p})
		}
	}
	slices.SortFunc(keys, func(a, b Key) int {
		if c := cmp.Compare(a.Service, b.Service); c != 0 {
			return c
		}
		return cmp.Compare(a.Port, b.Port)
	})
	return slices.CompactFunc(keys, func(a, b Key) bool { return a == b })
}

// SerialPort computes the deterministic host port of key: the range start plus
// the key's index among keys. The same declared ports always produce the same
// bindings, so a later run can find an environment started by an earlier one.
//
// Example:
//
//	keys := SortedKeys(map[string][]int{"api": {8080}, "db": {5432}})
//	SerialPort(keys, Key{"db", 5432}, PortRange{Start: 49152, End: 65535})
//	// Result: 49153
func SerialPort(keys []Key, key Key, portRange PortRange) (int, error) {
	index := slices.Index(keys, key)
	if index < 0 {
		return 0, fmt.Errorf("%s: %w", key, ErrUndeclaredPort)
	}
	port := portRange.Start + index
	if !portRange.Contains(port) {
		return 0, fmt.Errorf("%s: %w", key, ErrNoAvailablePorts)
	}
	return port, nil
}
