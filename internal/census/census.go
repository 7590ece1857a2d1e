// Package census loads tract graphs from the census data exports: a nodes
// CSV plus a neighbors JSON, or a single graph JSON document keyed by GEOID.
package census

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/nvandessel/cura/internal/graph"
	"github.com/nvandessel/cura/internal/sanitize"
	"github.com/nvandessel/cura/internal/tract"
)

// ErrMissingColumn is returned when a required CSV column is absent.
var ErrMissingColumn = errors.New("missing column")

// Column names of the nodes CSV.
const (
	ColGEOID        = "GEOID"
	ColLon          = "lon"
	ColLat          = "lat"
	ColPopulation   = "population"
	ColAreaKm2      = "area_km2"
	ColDensity      = "density_per_km2"
	ColMedianIncome = "median_income" // optional
)

var requiredColumns = []string{ColGEOID, ColLon, ColLat, ColPopulation, ColAreaKm2, ColDensity}

// LoadNodesCSV reads tracts from a nodes CSV. Every tract starts fully
// susceptible. Population may be written as a float ("123.0"); a missing
// or empty median income is 0.
func LoadNodesCSV(r io.Reader) ([]tract.Tract, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			return nil, fmt.Errorf("nodes csv: %s: %w", c, ErrMissingColumn)
		}
	}
	incomeCol, hasIncome := cols[ColMedianIncome]

	var tracts []tract.Tract
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("nodes csv line %d: %w", line, err)
		}

		p := rowParser{rec: rec, cols: cols, line: line}
		id := p.str(ColGEOID)
		lon := p.float(ColLon)
		lat := p.float(ColLat)
		pop := p.float(ColPopulation)
		area := p.float(ColAreaKm2)
		density := p.float(ColDensity)

		income := 0.0
		if hasIncome && incomeCol < len(rec) && strings.TrimSpace(rec[incomeCol]) != "" {
			income = p.float(ColMedianIncome)
		}
		if p.err != nil {
			return nil, p.err
		}
		if id == "" {
			return nil, fmt.Errorf("nodes csv line %d: empty %s", line, ColGEOID)
		}
		if !sanitize.ValidTractID(id) {
			return nil, fmt.Errorf("nodes csv line %d: invalid %s %q", line, ColGEOID, sanitize.TractID(id))
		}

		tracts = append(tracts, tract.New(id, lon, lat, int(pop), area, density, income))
	}
	return tracts, nil
}

// AttachNeighborsJSON reads a {GEOID: [GEOID, ...]} document and sets the
// neighbors of the matching tracts. Entries for unknown tracts are ignored;
// their count is returned.
func AttachNeighborsJSON(tracts []tract.Tract, r io.Reader) (int, error) {
	var adj map[string][]string
	if err := json.NewDecoder(r).Decode(&adj); err != nil {
		return 0, fmt.Errorf("decode neighbors: %w", err)
	}

	index := make(map[string]int, len(tracts))
	for i := range tracts {
		index[tracts[i].ID] = i
	}

	unknown := 0
	for id, nbrs := range adj {
		i, ok := index[id]
		if !ok {
			unknown++
			continue
		}
		tracts[i].SetNeighbors(nbrs)
	}
	return unknown, nil
}

// LoadGraph builds a graph from a nodes CSV and a neighbors JSON file.
func LoadGraph(nodesPath, neighborsPath string) (*graph.Graph, error) {
	nf, err := os.Open(nodesPath)
	if err != nil {
		return nil, fmt.Errorf("open nodes: %w", err)
	}
	defer nf.Close()

	tracts, err := LoadNodesCSV(nf)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", nodesPath, err)
	}

	af, err := os.Open(neighborsPath)
	if err != nil {
		return nil, fmt.Errorf("open neighbors: %w", err)
	}
	defer af.Close()

	if _, err := AttachNeighborsJSON(tracts, af); err != nil {
		return nil, fmt.Errorf("load %s: %w", neighborsPath, err)
	}
	return graph.New(tracts)
}

// ReadGraphJSON decodes a graph document: an object keyed by GEOID whose
// values are serialized tracts. Tracts are ordered by GEOID. A tract with
// no compartment counts starts fully susceptible.
func ReadGraphJSON(r io.Reader) (*graph.Graph, error) {
	var doc map[string]tract.Tract
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode graph: %w", err)
	}

	ids := make([]string, 0, len(doc))
	for id := range doc {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tracts := make([]tract.Tract, 0, len(ids))
	for _, id := range ids {
		if !sanitize.ValidTractID(id) {
			return nil, fmt.Errorf("graph entry %q: invalid id", sanitize.TractID(id))
		}
		t := doc[id]
		if t.ID == "" {
			t.ID = id
		}
		if t.ID != id {
			return nil, fmt.Errorf("graph entry %s carries id %s", id, t.ID)
		}
		if t.Compartments.Total() == 0 && t.Population > 0 {
			t.Compartments = tract.Compartments{Susceptible: t.Population}
		}
		tracts = append(tracts, t)
	}
	return graph.New(tracts)
}

// LoadGraphJSON reads a graph document from path.
func LoadGraphJSON(path string) (*graph.Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open graph: %w", err)
	}
	defer f.Close()

	g, err := ReadGraphJSON(f)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return g, nil
}

// WriteGraphJSON writes g in the format ReadGraphJSON accepts, including
// current compartments.
func WriteGraphJSON(w io.Writer, g *graph.Graph) error {
	doc := make(map[string]tract.Tract, g.Len())
	for _, t := range g.Tracts() {
		doc[t.ID] = t
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode graph: %w", err)
	}
	return nil
}

// rowParser collects the first parse error of a CSV record.
type rowParser struct {
	rec  []string
	cols map[string]int
	line int
	err  error
}

func (p *rowParser) str(col string) string {
	i := p.cols[col]
	if i >= len(p.rec) {
		if p.err == nil {
			p.err = fmt.Errorf("nodes csv line %d: %s: %w", p.line, col, ErrMissingColumn)
		}
		return ""
	}
	return strings.TrimSpace(p.rec[i])
}

func (p *rowParser) float(col string) float64 {
	s := p.str(col)
	if p.err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.err = fmt.Errorf("nodes csv line %d: %s %q: %w", p.line, col, s, err)
		return 0
	}
	return v
}
