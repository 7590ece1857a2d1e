package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/cura/internal/checkpoint"
	"github.com/nvandessel/cura/internal/epidemic"
	"github.com/nvandessel/cura/internal/pathutil"
	"github.com/nvandessel/cura/internal/ratelimit"
	"github.com/nvandessel/cura/internal/runner"
	"github.com/nvandessel/cura/internal/sanitize"
	"github.com/nvandessel/cura/internal/visualization"
)

// MaxStepDays bounds a single cura_step call.
const MaxStepDays = 365

// registerTools registers all cura MCP tools with the server.
func (s *Server) registerTools() {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "cura_start",
		Description: "Start a new epidemic run on the census tract graph, replacing any active run",
	}, s.handleStart)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "cura_step",
		Description: "Advance the active run by one or more simulated days",
	}, s.handleStep)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "cura_seed",
		Description: "Add infections to the active run, in one tract or in random tracts",
	}, s.handleSeed)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "cura_stats",
		Description: "Get aggregate SIRD totals and percentages for the active run",
	}, s.handleStats)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "cura_tract",
		Description: "Get one census tract's attributes and current compartments",
	}, s.handleTract)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "cura_history",
		Description: "Get the recorded per-day history of a run, or list recorded runs",
	}, s.handleHistory)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "cura_graph",
		Description: "Render the tract graph with current state as DOT (Graphviz), JSON, or GeoJSON",
	}, s.handleGraph)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "cura_checkpoint",
		Description: "Save the active run's state to a checksummed checkpoint file",
	}, s.handleCheckpoint)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "cura_restore",
		Description: "Replace the active run with a new run resumed from a checkpoint file",
	}, s.handleRestore)
}

// registerResources registers MCP resources for auto-loading into context.
func (s *Server) registerResources() {
	s.server.AddResource(&sdk.Resource{
		URI:         "cura://stats",
		Name:        "cura-stats",
		Description: "Current epidemic totals for the active run.",
		MIMEType:    "text/markdown",
	}, s.handleStatsResource)

	s.server.AddResourceTemplate(&sdk.ResourceTemplate{
		URITemplate: "cura://tracts/{geoid}",
		Name:        "cura-tract",
		Description: "Current state of one census tract.",
		MIMEType:    "text/markdown",
	}, s.handleTractResource)
}

func (s *Server) handleStart(ctx context.Context, req *sdk.CallToolRequest, args StartInput) (_ *sdk.CallToolResult, _ RunOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("cura_start", start, retErr, sanitizeToolParams(map[string]interface{}{
			"infection_rate": deref(args.InfectionRate),
			"recovery_rate":  deref(args.RecoveryRate),
			"mortality_rate": deref(args.MortalityRate),
			"seed":           args.Seed,
			"initial_tract":  args.InitialTract,
			"max_days":       args.MaxDays,
			"run_clock":      args.RunClock,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "cura_start"); err != nil {
		return nil, RunOutput{}, err
	}

	startReq, err := s.startRequest(args)
	if err != nil {
		return nil, RunOutput{}, err
	}

	var snap *runner.Snapshot
	if args.RunClock {
		snap, err = s.runner.Start(ctx, startReq)
	} else {
		snap, err = s.runner.Create(ctx, startReq)
	}
	if err != nil {
		return nil, RunOutput{}, fmt.Errorf("start run: %w", err)
	}

	msg := fmt.Sprintf("Run %s created with %d infectious; call cura_step to advance it", snap.RunID, snap.Stats.Infectious)
	if args.RunClock {
		msg = fmt.Sprintf("Run %s started with %d infectious", snap.RunID, snap.Stats.Infectious)
	}
	return nil, RunOutput{
		RunID:      snap.RunID,
		Status:     snap.Status,
		Seed:       snap.Seed,
		Day:        snap.Stats.Day,
		Infectious: snap.Stats.Infectious,
		Message:    msg,
	}, nil
}

func (s *Server) startRequest(args StartInput) (runner.StartRequest, error) {
	req := s.defaults
	for _, f := range []struct {
		name string
		dst  *float64
		v    *float64
	}{
		{"infection_rate", &req.Params.InfectionRate, args.InfectionRate},
		{"recovery_rate", &req.Params.RecoveryRate, args.RecoveryRate},
		{"mortality_rate", &req.Params.MortalityRate, args.MortalityRate},
		{"socioeconomic_impact", &req.Params.SocioeconomicImpact, args.SocioeconomicImpact},
	} {
		if f.v == nil {
			continue
		}
		if *f.v < 0 || *f.v > 1 {
			return req, fmt.Errorf("%s must be between 0 and 1, got %v", f.name, *f.v)
		}
		*f.dst = *f.v
	}
	if args.InitialCount < 0 || args.SeedCount < 0 || args.MaxDays < 0 {
		return req, errors.New("initial_count, seed_count and max_days must not be negative")
	}

	if args.Seed != 0 {
		req.Seed = args.Seed
	}
	if args.InitialTract != "" {
		req.InitialTract = args.InitialTract
		req.InitialCount = args.InitialCount
	}
	if args.SeedCount > 0 {
		req.SeedCount = args.SeedCount
	}
	if args.MaxDays > 0 {
		req.MaxDays = args.MaxDays
	}
	return req, nil
}

func (s *Server) handleStep(ctx context.Context, req *sdk.CallToolRequest, args StepInput) (_ *sdk.CallToolResult, _ StepOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("cura_step", start, retErr, sanitizeToolParams(map[string]interface{}{
			"days": args.Days,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "cura_step"); err != nil {
		return nil, StepOutput{}, err
	}

	days := args.Days
	if days == 0 {
		days = 1
	}
	if days < 0 || days > MaxStepDays {
		return nil, StepOutput{}, fmt.Errorf("days must be between 1 and %d, got %d", MaxStepDays, args.Days)
	}

	reports, err := s.runner.Step(ctx, days)
	if err != nil {
		return nil, StepOutput{}, fmt.Errorf("step: %w", err)
	}
	snap := s.runner.Snapshot()
	return nil, StepOutput{
		RunID:   snap.RunID,
		Reports: reports,
		Stats:   snap.Stats,
	}, nil
}

func (s *Server) handleSeed(ctx context.Context, req *sdk.CallToolRequest, args SeedInput) (_ *sdk.CallToolResult, _ SeedOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("cura_seed", start, retErr, sanitizeToolParams(map[string]interface{}{
			"tract": args.Tract,
			"count": args.Count,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "cura_seed"); err != nil {
		return nil, SeedOutput{}, err
	}

	n, err := s.runner.SeedMore(args.Tract, args.Count)
	if err != nil {
		return nil, SeedOutput{}, fmt.Errorf("seed: %w", err)
	}
	return nil, SeedOutput{Seeded: n, Stats: s.runner.Snapshot().Stats}, nil
}

func (s *Server) handleStats(ctx context.Context, req *sdk.CallToolRequest, args StatsInput) (_ *sdk.CallToolResult, _ StatsOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("cura_stats", start, retErr, nil)
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "cura_stats"); err != nil {
		return nil, StatsOutput{}, err
	}
	return nil, s.stats(), nil
}

func (s *Server) stats() StatsOutput {
	snap := s.runner.Snapshot()
	if snap == nil {
		return StatsOutput{Stats: epidemic.Summarize(s.runner.Graph(), 0, epidemic.DayReport{})}
	}
	return StatsOutput{RunID: snap.RunID, Status: snap.Status, Stats: snap.Stats}
}

func (s *Server) handleTract(ctx context.Context, req *sdk.CallToolRequest, args TractInput) (_ *sdk.CallToolResult, _ TractOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("cura_tract", start, retErr, sanitizeToolParams(map[string]interface{}{
			"geoid": args.GeoID,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "cura_tract"); err != nil {
		return nil, TractOutput{}, err
	}
	if args.GeoID == "" {
		return nil, TractOutput{}, errors.New("geoid is required")
	}

	t, ok := s.runner.Tract(args.GeoID)
	if !ok {
		return nil, TractOutput{}, fmt.Errorf("tract %s: %w", sanitize.TractID(args.GeoID), epidemic.ErrUnknownTract)
	}
	return nil, toTractOutput(t), nil
}

func (s *Server) handleHistory(ctx context.Context, req *sdk.CallToolRequest, args HistoryInput) (_ *sdk.CallToolResult, _ HistoryOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("cura_history", start, retErr, sanitizeToolParams(map[string]interface{}{
			"run_id": args.RunID,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "cura_history"); err != nil {
		return nil, HistoryOutput{}, err
	}

	runID := args.RunID
	if runID == "" {
		if snap := s.runner.Snapshot(); snap != nil {
			runID = snap.RunID
		}
	}
	if runID == "" {
		runs, err := s.runner.Runs(ctx)
		if err != nil {
			return nil, HistoryOutput{}, fmt.Errorf("list runs: %w", err)
		}
		return nil, HistoryOutput{Runs: runs}, nil
	}

	days, err := s.runner.History(ctx, runID)
	if err != nil {
		return nil, HistoryOutput{}, fmt.Errorf("history: %w", err)
	}
	return nil, HistoryOutput{RunID: runID, Days: days}, nil
}

func (s *Server) handleGraph(ctx context.Context, req *sdk.CallToolRequest, args GraphInput) (_ *sdk.CallToolResult, _ GraphOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("cura_graph", start, retErr, sanitizeToolParams(map[string]interface{}{
			"format": args.Format,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "cura_graph"); err != nil {
		return nil, GraphOutput{}, err
	}

	format := args.Format
	if format == "" {
		format = string(visualization.FormatJSON)
	}
	f, err := visualization.ParseFormat(format)
	if err != nil {
		return nil, GraphOutput{}, err
	}

	g := s.runner.CurrentGraph()

	switch f {
	case visualization.FormatDOT:
		return nil, GraphOutput{Format: string(f), Graph: visualization.RenderDOT(g), NodeCount: g.Len()}, nil
	case visualization.FormatJSON:
		return nil, GraphOutput{Format: string(f), Graph: visualization.RenderJSON(g), NodeCount: g.Len()}, nil
	case visualization.FormatGeoJSON:
		fc := visualization.GeoJSON(epidemic.Views(g))
		return nil, GraphOutput{Format: string(f), Graph: fc, NodeCount: len(fc.Features)}, nil
	}
	return nil, GraphOutput{}, fmt.Errorf("format %s is not available over MCP; use dot, json or geojson", f)
}

func (s *Server) handleCheckpoint(ctx context.Context, req *sdk.CallToolRequest, args CheckpointInput) (_ *sdk.CallToolResult, _ CheckpointOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("cura_checkpoint", start, retErr, sanitizeToolParams(map[string]interface{}{
			"path": pathutil.RedactPath(args.Path),
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "cura_checkpoint"); err != nil {
		return nil, CheckpointOutput{}, err
	}
	if s.checkpointDir == "" {
		return nil, CheckpointOutput{}, errCheckpointsDisabled
	}

	runID, state, err := s.runner.State()
	if err != nil {
		return nil, CheckpointOutput{}, fmt.Errorf("checkpoint: %w", err)
	}

	path := args.Path
	if path == "" {
		// Generated names always land in the checkpoint directory.
		path = filepath.Join(s.checkpointDir, checkpoint.FileName(runID, state.Day))
	} else {
		path = s.checkpointPath(path)
		if err := pathutil.ValidatePath(path, []string{s.checkpointDir}); err != nil {
			return nil, CheckpointOutput{}, fmt.Errorf("checkpoint path rejected: %w", err)
		}
	}

	if err := checkpoint.Write(path, runID, state); err != nil {
		return nil, CheckpointOutput{}, fmt.Errorf("checkpoint failed: %w", err)
	}

	deleted, err := checkpoint.ApplyRetention(filepath.Dir(path), &checkpoint.RunPolicy{RunID: runID, Policy: s.retention})
	if err != nil {
		s.logger.Warn("checkpoint retention failed", "error", err)
	}

	var size int64
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}

	return nil, CheckpointOutput{
		Path:      path,
		RunID:     runID,
		Day:       state.Day,
		Tracts:    len(state.Compartments),
		SizeBytes: size,
		Pruned:    len(deleted),
		Message:   fmt.Sprintf("Checkpoint of run %s at day %d written to %s", runID, state.Day, path),
	}, nil
}

func (s *Server) handleRestore(ctx context.Context, req *sdk.CallToolRequest, args RestoreInput) (_ *sdk.CallToolResult, _ RunOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("cura_restore", start, retErr, sanitizeToolParams(map[string]interface{}{
			"path": pathutil.RedactPath(args.Path),
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "cura_restore"); err != nil {
		return nil, RunOutput{}, err
	}
	if s.checkpointDir == "" {
		return nil, RunOutput{}, errCheckpointsDisabled
	}
	if args.Path == "" {
		return nil, RunOutput{}, errors.New("'path' parameter is required")
	}

	path := s.checkpointPath(args.Path)
	if err := pathutil.ValidatePath(path, []string{s.checkpointDir}); err != nil {
		return nil, RunOutput{}, fmt.Errorf("restore path rejected: %w", err)
	}

	ck, err := checkpoint.Load(path)
	if err != nil {
		return nil, RunOutput{}, fmt.Errorf("restore failed: %w", err)
	}

	snap, err := s.runner.Restore(ctx, s.defaults, ck.State)
	if err != nil {
		return nil, RunOutput{}, fmt.Errorf("restore failed: %w", err)
	}

	return nil, RunOutput{
		RunID:      snap.RunID,
		Status:     snap.Status,
		Seed:       snap.Seed,
		Day:        snap.Stats.Day,
		Infectious: snap.Stats.Infectious,
		Message: fmt.Sprintf("Run %s restored from run %s at day %d; call cura_step to advance it",
			snap.RunID, ck.Header.RunID, ck.Header.Day),
	}, nil
}

var errCheckpointsDisabled = errors.New("checkpoints are disabled: no checkpoint directory configured")

// checkpointPath resolves relative paths against the checkpoint directory.
func (s *Server) checkpointPath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(s.checkpointDir, path)
}

func (s *Server) handleStatsResource(ctx context.Context, req *sdk.ReadResourceRequest) (*sdk.ReadResourceResult, error) {
	out := s.stats()
	st := out.Stats

	var sb strings.Builder
	sb.WriteString("# Epidemic status\n\n")
	if out.RunID == "" {
		sb.WriteString("No run has been started. Use `cura_start` to begin one.\n\n")
	} else {
		sb.WriteString(fmt.Sprintf("Run `%s` is **%s** on day %d.\n\n", out.RunID, out.Status, st.Day))
	}
	sb.WriteString("| Compartment | People | Share |\n|---|---|---|\n")
	sb.WriteString(fmt.Sprintf("| Susceptible | %d | |\n", st.Susceptible))
	sb.WriteString(fmt.Sprintf("| Infectious | %d | %.2f%% |\n", st.Infectious, st.InfectionPercent))
	sb.WriteString(fmt.Sprintf("| Recovered | %d | %.2f%% |\n", st.Recovered, st.RecoveryPercent))
	sb.WriteString(fmt.Sprintf("| Deceased | %d | %.2f%% |\n", st.Deceased, st.MortalityPercent))
	sb.WriteString(fmt.Sprintf("\n%d of %d tracts have active infections.\n", st.InfectedTracts, st.Tracts))

	return &sdk.ReadResourceResult{
		Contents: []*sdk.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: "text/markdown",
			Text:     sb.String(),
		}},
	}, nil
}

func (s *Server) handleTractResource(ctx context.Context, req *sdk.ReadResourceRequest) (*sdk.ReadResourceResult, error) {
	uri := req.Params.URI
	const prefix = "cura://tracts/"
	if !strings.HasPrefix(uri, prefix) {
		return nil, fmt.Errorf("invalid URI format: %s", uri)
	}
	geoid := strings.TrimPrefix(uri, prefix)
	if geoid == "" {
		return nil, errors.New("tract GEOID is required")
	}

	t, ok := s.runner.Tract(geoid)
	if !ok {
		return nil, fmt.Errorf("tract not found: %s", sanitize.TractID(geoid))
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# Tract %s\n\n", t.ID))
	sb.WriteString(fmt.Sprintf("- Location: %.4f, %.4f\n", t.Lat, t.Lon))
	sb.WriteString(fmt.Sprintf("- Population: %d (%.1f per km²)\n", t.Population, t.Density))
	if t.MedianIncome > 0 {
		sb.WriteString(fmt.Sprintf("- Median income: %.0f\n", t.MedianIncome))
	}
	sb.WriteString(fmt.Sprintf("- S/I/R/D: %d / %d / %d / %d\n", t.Susceptible, t.Infectious, t.Recovered, t.Deceased))
	sb.WriteString(fmt.Sprintf("- Neighbors: %s\n", strings.Join(t.Neighbors, ", ")))

	return &sdk.ReadResourceResult{
		Contents: []*sdk.ResourceContents{{
			URI:      uri,
			MIMEType: "text/markdown",
			Text:     sb.String(),
		}},
	}, nil
}

func deref(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
