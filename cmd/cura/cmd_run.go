package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nvandessel/cura/internal/checkpoint"
	"github.com/nvandessel/cura/internal/config"
	"github.com/nvandessel/cura/internal/epidemic"
	"github.com/nvandessel/cura/internal/runner"
)

// dayLine is one --json output line of cura run.
type dayLine struct {
	RunID  string             `json:"run_id"`
	Report epidemic.DayReport `json:"report"`
	Stats  epidemic.Aggregate `json:"stats"`
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation headless",
		Long: `Run a simulation to completion without the HTTP server.

The run ends after --days days, when no tract is infectious, or at the
configured max_days. Every day is recorded in the history store. With
--json each day is printed as one JSON line.

Examples:
  cura run --graph us_census_graph.json --days 120 --seed 7
  cura run --graph g.json --tract 06075010100 --count 25 --json
  cura run --graph g.json --checkpoint-dir ./ckpt --checkpoint-every 30 --keep 3
  cura run --graph g.json --resume ./ckpt/cura-<run>-d000060.ckpt --days 60`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			opts, err := runOptionsFromFlags(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			stopOnSignal(ctx, cancel)

			return runHeadless(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), cfg, opts)
		},
	}

	cmd.Flags().Int("days", 100, "Days to simulate")
	cmd.Flags().Uint64("seed", 0, "Random seed (0 = config seed, or random)")
	cmd.Flags().String("tract", "", "Seed this tract instead of random tracts")
	cmd.Flags().Int("count", 0, "Infectious count for --tract")
	cmd.Flags().Int("seed-count", 0, "Random tracts to seed (0 = config)")
	cmd.Flags().String("checkpoint-dir", "", "Write checkpoints to this directory")
	cmd.Flags().Int("checkpoint-every", 0, "Checkpoint every N days (0 = only at the end)")
	cmd.Flags().Int("keep", 0, "Keep only the N newest checkpoints (0 = keep all)")
	cmd.Flags().String("resume", "", "Resume from a checkpoint file")

	return cmd
}

type runOptions struct {
	days          int
	seed          uint64
	tract         string
	count         int
	seedCount     int
	checkpointDir string
	every         int
	keep          int
	resume        string
	jsonOut       bool
}

func runOptionsFromFlags(cmd *cobra.Command) (runOptions, error) {
	var o runOptions
	o.days, _ = cmd.Flags().GetInt("days")
	o.seed, _ = cmd.Flags().GetUint64("seed")
	o.tract, _ = cmd.Flags().GetString("tract")
	o.count, _ = cmd.Flags().GetInt("count")
	o.seedCount, _ = cmd.Flags().GetInt("seed-count")
	o.checkpointDir, _ = cmd.Flags().GetString("checkpoint-dir")
	o.every, _ = cmd.Flags().GetInt("checkpoint-every")
	o.keep, _ = cmd.Flags().GetInt("keep")
	o.resume, _ = cmd.Flags().GetString("resume")
	o.jsonOut, _ = cmd.Flags().GetBool("json")

	if o.days < 1 {
		return o, fmt.Errorf("--days must be at least 1, got %d", o.days)
	}
	if o.count < 0 || o.seedCount < 0 || o.every < 0 || o.keep < 0 {
		return o, fmt.Errorf("--count, --seed-count, --checkpoint-every and --keep must not be negative")
	}
	if (o.every > 0 || o.keep > 0) && o.checkpointDir == "" {
		return o, fmt.Errorf("--checkpoint-every and --keep need --checkpoint-dir")
	}
	return o, nil
}

func runHeadless(ctx context.Context, out, errOut io.Writer, cfg *config.CuraConfig, o runOptions) error {
	logger := newLogger(cfg, errOut)

	g, err := loadGraph(cfg)
	if err != nil {
		return err
	}
	hs, err := openHistory(cfg)
	if err != nil {
		return err
	}
	defer hs.Close()
	days := newDayLogger(cfg)
	defer days.Close()

	r, err := runner.New(g,
		runner.WithHistory(hs),
		runner.WithDayLogger(days),
		runner.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	defer r.Close()

	req := startRequest(cfg)
	if o.seed != 0 {
		req.Seed = o.seed
	}
	if o.seedCount > 0 {
		req.SeedCount = o.seedCount
	}
	if o.tract != "" {
		req.InitialTract = o.tract
		req.InitialCount = o.count
	}

	var snap *runner.Snapshot
	if o.resume != "" {
		ck, err := checkpoint.Load(o.resume)
		if err != nil {
			return fmt.Errorf("load checkpoint: %w", err)
		}
		snap, err = r.Restore(ctx, req, ck.State)
		if err != nil {
			return fmt.Errorf("restore checkpoint: %w", err)
		}
	} else {
		snap, err = r.Create(ctx, req)
		if err != nil {
			return err
		}
	}

	if !o.jsonOut {
		fmt.Fprintf(out, "Run %s (seed %d, %d tracts, %d people, %d infectious on day %d)\n",
			snap.RunID, snap.Seed, snap.Stats.Tracts, snap.Stats.TotalPopulation, snap.Stats.Infectious, snap.Stats.Day)
	}

	enc := json.NewEncoder(out)
	for range o.days {
		reports, err := r.Step(ctx, 1)
		if err != nil {
			return err
		}
		cur := r.Snapshot()
		for _, rep := range reports {
			if o.jsonOut {
				if err := enc.Encode(dayLine{RunID: cur.RunID, Report: rep, Stats: cur.Stats}); err != nil {
					return err
				}
			} else {
				printDay(out, rep, cur.Stats)
			}
		}

		if o.every > 0 && cur.Stats.Day%o.every == 0 {
			if err := saveCheckpoint(r, o); err != nil {
				return err
			}
		}
		if cur.Stats.Infectious == 0 || (req.MaxDays > 0 && cur.Stats.Day >= req.MaxDays) {
			break
		}
	}

	final := r.Snapshot()
	if o.checkpointDir != "" && (o.every == 0 || final.Stats.Day%o.every != 0) {
		if err := saveCheckpoint(r, o); err != nil {
			return err
		}
	}

	if !o.jsonOut {
		s := final.Stats
		fmt.Fprintf(out, "\nDay %d: %d susceptible, %d infectious, %d recovered, %d deceased (%.2f%% infected, %.2f%% dead)\n",
			s.Day, s.Susceptible, s.Infectious, s.Recovered, s.Deceased, s.InfectionPercent, s.MortalityPercent)
	}
	return nil
}

func printDay(w io.Writer, rep epidemic.DayReport, s epidemic.Aggregate) {
	fmt.Fprintf(w, "day %4d  S=%-9d I=%-9d R=%-9d D=%-7d  +%d infected  +%d recovered  +%d dead  (%d tracts)\n",
		rep.Day, s.Susceptible, s.Infectious, s.Recovered, s.Deceased,
		rep.NewInfections, rep.NewRecoveries, rep.NewDeaths, s.InfectedTracts)
}

// saveCheckpoint writes the active run to the checkpoint directory and
// applies the retention count.
func saveCheckpoint(r *runner.Runner, o runOptions) error {
	id, state, err := r.State()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(o.checkpointDir, 0755); err != nil {
		return fmt.Errorf("create checkpoint directory: %w", err)
	}
	path := filepath.Join(o.checkpointDir, checkpoint.FileName(id, state.Day))
	if err := checkpoint.Write(path, id, state); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if o.keep > 0 {
		if _, err := checkpoint.ApplyRetention(o.checkpointDir, &checkpoint.RunPolicy{
			RunID:  id,
			Policy: &checkpoint.CountPolicy{MaxCount: o.keep},
		}); err != nil {
			return fmt.Errorf("checkpoint retention: %w", err)
		}
	}
	return nil
}
