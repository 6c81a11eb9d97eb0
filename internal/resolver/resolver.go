// Package resolver orders recommendations so that every declared
// dependency deploys strictly before its dependents.
package resolver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/harrison/deploypilot/internal/models"
)

// CyclicDependencyError reports that the dependency graph contains at
// least one cycle. Remaining lists the ids that could not be ordered.
type CyclicDependencyError struct {
	Remaining []string
}

// Error implements the error interface.
func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency detected among recommendations: %s",
		strings.Join(e.Remaining, ", "))
}

// graph is an arena-style dependency graph: recommendations are addressed
// by their input index and adjacency is stored as index slices, avoiding
// pointer chasing and recursion on large inputs.
type graph struct {
	index    map[string]int // id -> input position
	adj      [][]int        // dependency index -> dependent indices
	inDegree []int
}

func buildGraph(recs []models.Recommendation) (*graph, error) {
	g := &graph{
		index:    make(map[string]int, len(recs)),
		adj:      make([][]int, len(recs)),
		inDegree: make([]int, len(recs)),
	}

	for i := range recs {
		if err := recs[i].Validate(); err != nil {
			return nil, err
		}
		if _, dup := g.index[recs[i].ID]; dup {
			return nil, fmt.Errorf("duplicate recommendation id %q", recs[i].ID)
		}
		g.index[recs[i].ID] = i
	}

	for i := range recs {
		for _, dep := range recs[i].DependsOn {
			j, ok := g.index[dep]
			if !ok {
				return nil, fmt.Errorf("recommendation %s: depends on unknown recommendation %q", recs[i].ID, dep)
			}
			g.adj[j] = append(g.adj[j], i)
			g.inDegree[i]++
		}
	}

	return g, nil
}

// Resolve computes a total order over the recommendations such that every
// entry of DependsOn appears strictly earlier. Ties among simultaneously
// ready items are broken by Priority descending, then input order, so the
// result is deterministic.
//
// If the graph contains a cycle, Resolve returns a *CyclicDependencyError
// naming the unorderable ids and no partial order.
func Resolve(recs []models.Recommendation) ([]models.Recommendation, error) {
	if len(recs) == 0 {
		return []models.Recommendation{}, nil
	}

	g, err := buildGraph(recs)
	if err != nil {
		return nil, err
	}

	// Kahn's algorithm. The ready set is re-sorted each round so that
	// priority ties stay stable against input order.
	inDegree := make([]int, len(recs))
	copy(inDegree, g.inDegree)

	var ready []int
	for i, d := range inDegree {
		if d == 0 {
			ready = append(ready, i)
		}
	}

	ordered := make([]models.Recommendation, 0, len(recs))
	for len(ready) > 0 {
		sort.SliceStable(ready, func(a, b int) bool {
			if recs[ready[a]].Priority != recs[ready[b]].Priority {
				return recs[ready[a]].Priority > recs[ready[b]].Priority
			}
			return ready[a] < ready[b]
		})

		next := ready[0]
		ready = ready[1:]
		ordered = append(ordered, recs[next])

		for _, dependent := range g.adj[next] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(ordered) != len(recs) {
		seen := make(map[string]bool, len(ordered))
		for _, r := range ordered {
			seen[r.ID] = true
		}
		var remaining []string
		for _, r := range recs {
			if !seen[r.ID] {
				remaining = append(remaining, r.ID)
			}
		}
		return nil, &CyclicDependencyError{Remaining: remaining}
	}

	return ordered, nil
}

// Dependents returns, for each recommendation id, the ids that directly
// depend on it.
func Dependents(recs []models.Recommendation) map[string][]string {
	out := make(map[string][]string, len(recs))
	for _, r := range recs {
		for _, dep := range r.DependsOn {
			out[dep] = append(out[dep], r.ID)
		}
	}
	return out
}
