package compose

import (
	"fmt"
	"slices"
	"strings"
)

// =============================================================================
// Service Ordering Functions
// =============================================================================

// DependencyOrder sorts the present services so every service follows the
// services it depends on, using Kahn's algorithm. Among services whose
// dependencies are all satisfied, declaration order decides.
//
// Dependencies on services that are not present are ignored. A cycle among the
// present services returns ErrCircularDependency naming the services involved.
//
// Example:
//
//	// Declared: web → api → db
//	order, _ := def.DependencyOrder()
//	// Result: [db, api, web]
func (d *Definition) DependencyOrder() ([]string, error) {
	names := d.Services()
	if len(names) == 0 {
		return names, nil
	}

	position := make(map[string]int, len(names))
	for i, name := range names {
		position[name] = i
	}

	inDegree := make(map[string]int, len(names))
	dependents := make(map[string][]string)
	for _, name := range names {
		svc := d.Project.Services[name]
		for dep := range svc.DependsOn {
			if _, ok := position[dep]; !ok {
				continue
			}
			inDegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []string
	for _, name := range names {
		if inDegree[name] == 0 {
			ready = append(ready, name)
		}
	}

	result := make([]string, 0, len(names))
	for len(ready) > 0 {
		// Pick the earliest declared service among those ready
		next := 0
		for i := range ready {
			if position[ready[i]] < position[ready[next]] {
				next = i
			}
		}
		name := ready[next]
		ready = slices.Delete(ready, next, next+1)
		result = append(result, name)

		for _, dep := range dependents[name] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(result) < len(names) {
		var cycle []string
		for _, name := range names {
			if inDegree[name] > 0 {
				cycle = append(cycle, name)
			}
		}
		return nil, NewParseError("services",
			fmt.Sprintf("circular dependency between %s", strings.Join(cycle, ", ")),
			ErrCircularDependency)
	}
	return result, nil
}
