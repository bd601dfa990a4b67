package readiness

import (
	"strings"

	"github.com/artpar/composeenv/internal/core/descriptor"
)

// MarkerMatcher tracks which readiness markers have appeared in a log stream.
//
// Ordered matching requires each marker to appear after the previous one has
// matched; several markers may match on the same line when they appear there
// in sequence. Unordered matching only requires every marker to appear.
type MarkerMatcher struct {
	markers []string
	matched []bool
	ordered bool
	next    int
}

// NewMarkerMatcher creates a matcher for the markers under the given policy.
func NewMarkerMatcher(markers []string, order descriptor.MarkerOrder) *MarkerMatcher {
	return &MarkerMatcher{
		markers: markers,
		matched: make([]bool, len(markers)),
		ordered: order != descriptor.MarkersUnordered,
	}
}

// Feed matches one log line and reports whether every marker has now matched.
func (m *MarkerMatcher) Feed(line string) bool {
	if m.ordered {
		rest := line
		for m.next < len(m.markers) {
			idx := strings.Index(rest, m.markers[m.next])
			if idx < 0 {
				break
			}
			rest = rest[idx+len(m.markers[m.next]):]
			m.matched[m.next] = true
			m.next++
		}
		return m.Done()
	}

	for i, marker := range m.markers {
		if !m.matched[i] && strings.Contains(line, marker) {
			m.matched[i] = true
		}
	}
	return m.Done()
}

// Done reports whether every marker has matched.
func (m *MarkerMatcher) Done() bool {
	for _, ok := range m.matched {
		if !ok {
			return false
		}
	}
	return true
}

// Pending returns the markers not yet matched, in declaration order.
func (m *MarkerMatcher) Pending() []string {
	var pending []string
	for i, ok := range m.matched {
		if !ok {
			pending = append(pending, m.markers[i])
		}
	}
	return pending
}
