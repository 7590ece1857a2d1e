// Package graph assembles tracts into the adjacency graph the epidemic
// engine runs on. Tracts are stored densely in load order and neighbor ids
// are resolved to indices once, so the engine's per-day passes never hash.
package graph

import (
	"errors"
	"fmt"

	"github.com/nvandessel/cura/internal/tract"
)

var (
	// ErrDuplicateTract indicates two tracts share an id.
	ErrDuplicateTract = errors.New("duplicate tract id")

	// ErrInvalidTract indicates a tract whose compartments are negative or
	// do not sum to its population.
	ErrInvalidTract = errors.New("invalid tract")
)

// Graph is the set of tracts plus their neighbor relation.
type Graph struct {
	tracts     []tract.Tract
	index      map[string]int
	adjacency  [][]int
	unresolved int
}

// New builds a graph from fully populated tracts. The tracts are copied.
// Neighbor ids that do not resolve within the graph are dropped from the
// resolved adjacency but kept on the tract itself.
func New(tracts []tract.Tract) (*Graph, error) {
	g := &Graph{
		tracts: make([]tract.Tract, len(tracts)),
		index:  make(map[string]int, len(tracts)),
	}

	for i, t := range tracts {
		if t.ID == "" {
			return nil, fmt.Errorf("tract %d: empty id: %w", i, ErrInvalidTract)
		}
		if _, exists := g.index[t.ID]; exists {
			return nil, fmt.Errorf("tract %s: %w", t.ID, ErrDuplicateTract)
		}
		if t.Population < 0 || !t.Conserved() {
			return nil, fmt.Errorf("tract %s: compartments %+v do not match population %d: %w",
				t.ID, t.Compartments, t.Population, ErrInvalidTract)
		}
		t.Neighbors = append([]string(nil), t.Neighbors...)
		g.tracts[i] = t
		g.index[t.ID] = i
	}

	g.adjacency = make([][]int, len(g.tracts))
	for i := range g.tracts {
		t := &g.tracts[i]
		resolved := make([]int, 0, len(t.Neighbors))
		seen := make(map[int]bool, len(t.Neighbors))
		for _, nid := range t.Neighbors {
			j, ok := g.index[nid]
			if !ok {
				g.unresolved++
				continue
			}
			if j == i || seen[j] {
				continue
			}
			seen[j] = true
			resolved = append(resolved, j)
		}
		g.adjacency[i] = resolved
	}

	return g, nil
}

// Len returns the number of tracts.
func (g *Graph) Len() int {
	return len(g.tracts)
}

// Index returns the dense index of a tract id.
func (g *Graph) Index(id string) (int, bool) {
	i, ok := g.index[id]
	return i, ok
}

// ID returns the id of the tract at index i.
func (g *Graph) ID(i int) string {
	return g.tracts[i].ID
}

// IDs returns all tract ids in index order.
func (g *Graph) IDs() []string {
	ids := make([]string, len(g.tracts))
	for i := range g.tracts {
		ids[i] = g.tracts[i].ID
	}
	return ids
}

// At returns a pointer to the tract at index i. Callers outside the engine
// must treat it as read-only.
func (g *Graph) At(i int) *tract.Tract {
	return &g.tracts[i]
}

// Tract returns a copy of the tract with the given id.
func (g *Graph) Tract(id string) (tract.Tract, bool) {
	i, ok := g.index[id]
	if !ok {
		return tract.Tract{}, false
	}
	t := g.tracts[i]
	t.Neighbors = append([]string(nil), t.Neighbors...)
	return t, true
}

// Neighbors returns the resolved neighbor indices of tract i.
func (g *Graph) Neighbors(i int) []int {
	return g.adjacency[i]
}

// Unresolved returns how many neighbor references point outside the graph.
func (g *Graph) Unresolved() int {
	return g.unresolved
}

// Tracts returns a copy of every tract in index order.
func (g *Graph) Tracts() []tract.Tract {
	out := make([]tract.Tract, len(g.tracts))
	for i, t := range g.tracts {
		t.Neighbors = append([]string(nil), t.Neighbors...)
		out[i] = t
	}
	return out
}

// Clone returns a deep copy of the graph.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		tracts:     g.Tracts(),
		index:      make(map[string]int, len(g.index)),
		adjacency:  make([][]int, len(g.adjacency)),
		unresolved: g.unresolved,
	}
	for id, i := range g.index {
		c.index[id] = i
	}
	for i, adj := range g.adjacency {
		c.adjacency[i] = append([]int(nil), adj...)
	}
	return c
}

// TotalPopulation returns the summed population of every tract.
func (g *Graph) TotalPopulation() int {
	total := 0
	for i := range g.tracts {
		total += g.tracts[i].Population
	}
	return total
}
