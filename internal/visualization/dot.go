// Package visualization renders tract graphs and run state in various
// output formats.
package visualization

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/nvandessel/cura/internal/epidemic"
	"github.com/nvandessel/cura/internal/graph"
	"github.com/nvandessel/cura/internal/tract"
)

// Format specifies the output format for graph rendering.
type Format string

const (
	FormatDOT     Format = "dot"
	FormatJSON    Format = "json"
	FormatGeoJSON Format = "geojson"
	FormatHTML    Format = "html"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatDOT, FormatJSON, FormatGeoJSON, FormatHTML:
		return f, nil
	}
	return "", fmt.Errorf("unknown format %q (want dot, json, geojson or html)", s)
}

// Map colors.
const (
	ColorInfected = "red"
	ColorClear    = "blue"
)

// Color returns the map color of a tract: red while anyone in it is
// infectious, blue otherwise.
func Color(c tract.Compartments) string {
	if c.Infectious > 0 {
		return ColorInfected
	}
	return ColorClear
}

// RenderDOT produces an undirected Graphviz graph of g, one node per tract
// and one edge per neighbor pair.
func RenderDOT(g *graph.Graph) string {
	var b strings.Builder
	b.WriteString("graph cura {\n")
	b.WriteString("  layout=neato;\n")
	b.WriteString("  node [shape=circle, style=filled, fontname=\"Helvetica\", fontsize=8];\n\n")

	for i := 0; i < g.Len(); i++ {
		t := g.At(i)
		fmt.Fprintf(&b, "  %q [fillcolor=%q, pos=\"%.5f,%.5f!\", tooltip=\"S=%d I=%d R=%d D=%d\"];\n",
			t.ID, Color(t.Compartments), t.Lon, t.Lat,
			t.Susceptible, t.Infectious, t.Recovered, t.Deceased)
	}
	b.WriteString("\n")

	for _, e := range edges(g) {
		fmt.Fprintf(&b, "  %q -- %q;\n", e[0], e[1])
	}

	b.WriteString("}\n")
	return b.String()
}

// RenderJSON produces a JSON graph representation with nodes and edges arrays.
func RenderJSON(g *graph.Graph) map[string]interface{} {
	nodes := make([]map[string]interface{}, 0, g.Len())
	for i := 0; i < g.Len(); i++ {
		t := g.At(i)
		nodes = append(nodes, map[string]interface{}{
			"id":          t.ID,
			"lon":         t.Lon,
			"lat":         t.Lat,
			"population":  t.Population,
			"susceptible": t.Susceptible,
			"infectious":  t.Infectious,
			"recovered":   t.Recovered,
			"deceased":    t.Deceased,
			"color":       Color(t.Compartments),
		})
	}

	pairs := edges(g)
	jsonEdges := make([]map[string]interface{}, 0, len(pairs))
	for _, e := range pairs {
		jsonEdges = append(jsonEdges, map[string]interface{}{
			"source": e[0],
			"target": e[1],
		})
	}

	return map[string]interface{}{
		"nodes":      nodes,
		"edges":      jsonEdges,
		"node_count": len(nodes),
		"edge_count": len(jsonEdges),
	}
}

// GeoJSON builds a point feature per tract view. Each feature carries the
// tract's compartments and map color as properties.
func GeoJSON(views []epidemic.TractView) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, v := range views {
		f := geojson.NewFeature(orb.Point{v.Lon, v.Lat})
		f.ID = v.ID
		f.Properties["geoid"] = v.ID
		f.Properties["population"] = v.Population
		f.Properties["susceptible"] = v.Susceptible
		f.Properties["infected"] = v.Infectious
		f.Properties["recovered"] = v.Recovered
		f.Properties["deceased"] = v.Deceased
		f.Properties["color"] = Color(v.Compartments)
		fc.Append(f)
	}
	return fc
}

// edges returns each neighbor pair once, ordered by the lower node index.
func edges(g *graph.Graph) [][2]string {
	var out [][2]string
	for i := 0; i < g.Len(); i++ {
		for _, j := range g.Neighbors(i) {
			if j <= i && contains(g.Neighbors(j), i) {
				continue
			}
			out = append(out, [2]string{g.ID(i), g.ID(j)})
		}
	}
	return out
}

func contains(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
