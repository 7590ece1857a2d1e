// Package mcp provides an MCP (Model Context Protocol) server for cura.
package mcp

import (
	"github.com/nvandessel/cura/internal/epidemic"
	"github.com/nvandessel/cura/internal/runner"
	"github.com/nvandessel/cura/internal/store"
	"github.com/nvandessel/cura/internal/tract"
)

// StartInput defines the input for the cura_start tool.
type StartInput struct {
	InfectionRate       *float64 `json:"infection_rate,omitempty" jsonschema:"base daily transmission rate (0-1)"`
	RecoveryRate        *float64 `json:"recovery_rate,omitempty" jsonschema:"base daily recovery rate (0-1)"`
	MortalityRate       *float64 `json:"mortality_rate,omitempty" jsonschema:"base daily mortality rate (0-1)"`
	SocioeconomicImpact *float64 `json:"socioeconomic_impact,omitempty" jsonschema:"weight of tract income on transmission (0-1)"`

	Seed         uint64 `json:"seed,omitempty" jsonschema:"optional seed for a reproducible run"`
	InitialTract string `json:"initial_tract,omitempty" jsonschema:"GEOID of the tract to seed; random tracts when empty"`
	InitialCount int    `json:"initial_count,omitempty" jsonschema:"infectious people placed in initial_tract (default 10)"`
	SeedCount    int    `json:"seed_count,omitempty" jsonschema:"random tracts seeded with one case each (default 5)"`
	MaxDays      int    `json:"max_days,omitempty" jsonschema:"stop the run after this many days"`
	RunClock     bool   `json:"run_clock,omitempty" jsonschema:"step the run on the wall clock instead of waiting for cura_step"`
}

// RunOutput describes a run after a lifecycle change.
type RunOutput struct {
	RunID      string        `json:"run_id" jsonschema:"id of the run"`
	Status     runner.Status `json:"status" jsonschema:"ready, running, stopped, completed or failed"`
	Seed       uint64        `json:"seed" jsonschema:"seed of the run; pass it to cura_start to replay"`
	Day        int           `json:"day" jsonschema:"current simulated day"`
	Infectious int           `json:"infectious" jsonschema:"people currently infectious"`
	Message    string        `json:"message" jsonschema:"human-readable result message"`
}

// StepInput defines the input for the cura_step tool.
type StepInput struct {
	Days int `json:"days,omitempty" jsonschema:"days to advance (default 1, max 365)"`
}

// StepOutput defines the output for the cura_step tool.
type StepOutput struct {
	RunID   string               `json:"run_id" jsonschema:"id of the run"`
	Reports []epidemic.DayReport `json:"reports" jsonschema:"one report per simulated day"`
	Stats   epidemic.Aggregate   `json:"stats" jsonschema:"totals after the last day"`
}

// SeedInput defines the input for the cura_seed tool.
type SeedInput struct {
	Tract string `json:"tract,omitempty" jsonschema:"GEOID to raise to count infectious; random tracts when empty"`
	Count int    `json:"count" jsonschema:"infectious target for tract, or number of random tracts"`
}

// SeedOutput defines the output for the cura_seed tool.
type SeedOutput struct {
	Seeded int                `json:"seeded" jsonschema:"people moved to infectious"`
	Stats  epidemic.Aggregate `json:"stats" jsonschema:"totals after seeding"`
}

// StatsInput defines the input for the cura_stats tool.
type StatsInput struct{}

// StatsOutput defines the output for the cura_stats tool.
type StatsOutput struct {
	RunID  string             `json:"run_id,omitempty" jsonschema:"id of the active run, empty before the first run"`
	Status runner.Status      `json:"status,omitempty" jsonschema:"status of the active run"`
	Stats  epidemic.Aggregate `json:"stats" jsonschema:"aggregate totals"`
}

// TractInput defines the input for the cura_tract tool.
type TractInput struct {
	GeoID string `json:"geoid" jsonschema:"census tract GEOID"`
}

// TractOutput defines the output for the cura_tract tool.
type TractOutput struct {
	GeoID        string   `json:"geoid" jsonschema:"census tract GEOID"`
	Lon          float64  `json:"lon" jsonschema:"centroid longitude"`
	Lat          float64  `json:"lat" jsonschema:"centroid latitude"`
	Population   int      `json:"population" jsonschema:"total population"`
	Density      float64  `json:"density" jsonschema:"people per square km"`
	MedianIncome float64  `json:"median_income" jsonschema:"median household income, 0 when unknown"`
	Neighbors    []string `json:"neighbors" jsonschema:"GEOIDs of adjacent tracts"`
	Susceptible  int      `json:"susceptible"`
	Infectious   int      `json:"infectious"`
	Recovered    int      `json:"recovered"`
	Deceased     int      `json:"deceased"`
	Quarantined  bool     `json:"quarantined"`
}

func toTractOutput(t tract.Tract) TractOutput {
	return TractOutput{
		GeoID:        t.ID,
		Lon:          t.Lon,
		Lat:          t.Lat,
		Population:   t.Population,
		Density:      t.Density,
		MedianIncome: t.MedianIncome,
		Neighbors:    t.Neighbors,
		Susceptible:  t.Susceptible,
		Infectious:   t.Infectious,
		Recovered:    t.Recovered,
		Deceased:     t.Deceased,
		Quarantined:  t.Quarantined,
	}
}

// HistoryInput defines the input for the cura_history tool.
type HistoryInput struct {
	RunID string `json:"run_id,omitempty" jsonschema:"run to read; the active run when empty"`
}

// HistoryOutput defines the output for the cura_history tool.
type HistoryOutput struct {
	RunID string      `json:"run_id,omitempty" jsonschema:"run the days belong to"`
	Days  []store.Day `json:"days,omitempty" jsonschema:"per-day aggregates ordered by day"`
	Runs  []store.Run `json:"runs,omitempty" jsonschema:"recorded runs, newest first"`
}

// GraphInput defines the input for the cura_graph tool.
type GraphInput struct {
	Format string `json:"format,omitempty" jsonschema:"dot, json or geojson (default json)"`
}

// GraphOutput defines the output for the cura_graph tool.
type GraphOutput struct {
	Format    string      `json:"format" jsonschema:"format of graph"`
	Graph     interface{} `json:"graph" jsonschema:"rendered graph"`
	NodeCount int         `json:"node_count" jsonschema:"number of tracts"`
}

// CheckpointInput defines the input for the cura_checkpoint tool.
type CheckpointInput struct {
	Path string `json:"path,omitempty" jsonschema:"checkpoint file inside the checkpoint directory; generated from run id and day when empty"`
}

// CheckpointOutput defines the output for the cura_checkpoint tool.
type CheckpointOutput struct {
	Path      string `json:"path" jsonschema:"file the checkpoint was written to"`
	RunID     string `json:"run_id" jsonschema:"run the checkpoint was taken from"`
	Day       int    `json:"day" jsonschema:"simulated day captured"`
	Tracts    int    `json:"tracts" jsonschema:"number of tracts captured"`
	SizeBytes int64  `json:"size_bytes" jsonschema:"checkpoint file size"`
	Pruned    int    `json:"pruned" jsonschema:"older checkpoints removed by retention"`
	Message   string `json:"message" jsonschema:"human-readable result message"`
}

// RestoreInput defines the input for the cura_restore tool.
type RestoreInput struct {
	Path string `json:"path" jsonschema:"checkpoint file to restore, inside the checkpoint directory"`
}
