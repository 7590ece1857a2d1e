package graph

import (
	"sort"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/nvandessel/cura/internal/tract"
)

// DanglingRef is a neighbor reference that does not resolve within the graph.
type DanglingRef struct {
	TractID    string `json:"tract_id"`
	NeighborID string `json:"neighbor_id"`
}

// Report summarizes structural issues in a graph. None of them prevent a
// simulation from running.
type Report struct {
	Tracts           int           `json:"tracts"`
	Edges            int           `json:"edges"`
	Dangling         []DanglingRef `json:"dangling,omitempty"`
	Asymmetric       int           `json:"asymmetric"`
	Isolated         []string      `json:"isolated,omitempty"`
	ZeroPopulation   int           `json:"zero_population"`
	Components       int           `json:"components"`
	LargestComponent int           `json:"largest_component"`
}

// Validate inspects the graph and returns a report.
func (g *Graph) Validate() Report {
	r := Report{Tracts: len(g.tracts)}

	for i := range g.tracts {
		t := &g.tracts[i]
		for _, nid := range t.Neighbors {
			if _, ok := g.index[nid]; !ok {
				r.Dangling = append(r.Dangling, DanglingRef{TractID: t.ID, NeighborID: nid})
			}
		}
		if len(g.adjacency[i]) == 0 {
			r.Isolated = append(r.Isolated, t.ID)
		}
		if t.Population == 0 {
			r.ZeroPopulation++
		}
		for _, j := range g.adjacency[i] {
			if !contains(g.adjacency[j], i) {
				r.Asymmetric++
			}
		}
	}

	r.Edges = g.undirected().Edges().Len()

	components := g.Components()
	r.Components = len(components)
	if len(components) > 0 {
		r.LargestComponent = len(components[0])
	}
	return r
}

// Components returns the connected components (edges treated as undirected),
// largest first. Equal-sized components keep the order of their first tract.
// Each component lists tract ids sorted.
func (g *Graph) Components() [][]string {
	found := topo.ConnectedComponents(g.undirected())

	type component struct {
		first int
		ids   []string
	}
	components := make([]component, 0, len(found))
	for _, nodes := range found {
		c := component{first: len(g.tracts), ids: make([]string, 0, len(nodes))}
		for _, n := range nodes {
			i := int(n.ID())
			c.first = min(c.first, i)
			c.ids = append(c.ids, g.tracts[i].ID)
		}
		sort.Strings(c.ids)
		components = append(components, c)
	}

	sort.Slice(components, func(a, b int) bool {
		if len(components[a].ids) != len(components[b].ids) {
			return len(components[a].ids) > len(components[b].ids)
		}
		return components[a].first < components[b].first
	})

	out := make([][]string, len(components))
	for i, c := range components {
		out[i] = c.ids
	}
	return out
}

// undirected mirrors the adjacency as a gonum graph keyed by tract index.
func (g *Graph) undirected() *simple.UndirectedGraph {
	u := simple.NewUndirectedGraph()
	for i := range g.tracts {
		u.AddNode(simple.Node(i))
	}
	for i, adj := range g.adjacency {
		for _, j := range adj {
			u.SetEdge(simple.Edge{F: simple.Node(i), T: simple.Node(j)})
		}
	}
	return u
}

// LargestComponent returns a new graph restricted to the largest connected
// component. Neighbor references leaving the component are dropped.
func (g *Graph) LargestComponent() (*Graph, error) {
	components := g.Components()
	if len(components) == 0 {
		return New(nil)
	}

	keep := make(map[string]bool, len(components[0]))
	for _, id := range components[0] {
		keep[id] = true
	}

	tracts := make([]tract.Tract, 0, len(keep))
	for i := range g.tracts {
		t := g.tracts[i]
		if !keep[t.ID] {
			continue
		}
		filtered := make([]string, 0, len(t.Neighbors))
		for _, nid := range t.Neighbors {
			if keep[nid] {
				filtered = append(filtered, nid)
			}
		}
		t.Neighbors = filtered
		tracts = append(tracts, t)
	}
	return New(tracts)
}

func contains(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
