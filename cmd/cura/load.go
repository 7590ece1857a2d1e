package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/nvandessel/cura/internal/census"
	"github.com/nvandessel/cura/internal/config"
	"github.com/nvandessel/cura/internal/graph"
	"github.com/nvandessel/cura/internal/logging"
	"github.com/nvandessel/cura/internal/runner"
	"github.com/nvandessel/cura/internal/store"
)

var errNoGraph = errors.New("no graph configured: pass --graph, or --nodes with --neighbors (or set data.graph_json / data.nodes_csv and data.neighbors_json)")

// loadConfig loads the effective config and applies the global flags.
func loadConfig(cmd *cobra.Command) (*config.CuraConfig, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadPath(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if v, _ := cmd.Flags().GetString("graph"); v != "" {
		cfg.Data.GraphJSON = v
	}
	if v, _ := cmd.Flags().GetString("nodes"); v != "" {
		cfg.Data.NodesCSV = v
	}
	if v, _ := cmd.Flags().GetString("neighbors"); v != "" {
		cfg.Data.NeighborsJSON = v
	}
	if v, _ := cmd.Flags().GetBool("largest-component"); v {
		cfg.Data.LargestComponent = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// loadGraph builds the provisioning graph from the configured data files.
func loadGraph(cfg *config.CuraConfig) (*graph.Graph, error) {
	var (
		g   *graph.Graph
		err error
	)
	switch {
	case cfg.Data.GraphJSON != "":
		g, err = census.LoadGraphJSON(cfg.Data.GraphJSON)
	case cfg.Data.NodesCSV != "" && cfg.Data.NeighborsJSON != "":
		g, err = census.LoadGraph(cfg.Data.NodesCSV, cfg.Data.NeighborsJSON)
	default:
		return nil, errNoGraph
	}
	if err != nil {
		return nil, fmt.Errorf("load graph: %w", err)
	}

	if cfg.Data.LargestComponent {
		g, err = g.LargestComponent()
		if err != nil {
			return nil, fmt.Errorf("largest component: %w", err)
		}
	}
	return g, nil
}

// openHistory opens the configured history store, creating the data
// directory for sqlite.
func openHistory(cfg *config.CuraConfig) (store.HistoryStore, error) {
	path, err := cfg.HistoryPath()
	if err != nil {
		return nil, err
	}
	if cfg.History.Driver == store.DriverSQLite {
		if err := store.EnsureDir(path); err != nil {
			return nil, err
		}
	}
	hs, err := store.Open(cfg.History.Driver, path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return hs, nil
}

// newLogger writes the process log to w, which is stderr for every command
// so stdout stays clean for --json output and the MCP stdio transport.
func newLogger(cfg *config.CuraConfig, w io.Writer) *slog.Logger {
	return logging.NewLogger(cfg.Logging.Level, w)
}

// newDayLogger returns the per-day JSONL log in the data directory, or nil
// below debug level.
func newDayLogger(cfg *config.CuraConfig) *logging.DayLogger {
	dir, err := cfg.DataDir()
	if err != nil {
		return nil
	}
	return logging.NewDayLogger(dir, cfg.Logging.Level)
}

// startRequest turns the simulation config into a start request.
func startRequest(cfg *config.CuraConfig) runner.StartRequest {
	return runner.StartRequest{
		Params:    cfg.Params(),
		Seed:      cfg.Simulation.Seed,
		SeedCount: cfg.Simulation.SeedCount,
		MaxDays:   cfg.Simulation.MaxDays,
		Speed:     cfg.Simulation.Speed,
	}
}

// stopOnSignal cancels ctx on SIGINT/SIGTERM.
func stopOnSignal(ctx context.Context, cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	notifySignals(sigCh)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()
}
