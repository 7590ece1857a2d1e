package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nvandessel/cura/internal/store"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded runs and their daily totals",
		Long: `Without arguments, list recorded runs newest first. With a run id,
print that run's recorded days.

Examples:
  cura history
  cura history 0f8fad5b-d9cb-469f-a165-70867728950e --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			limit, _ := cmd.Flags().GetInt("limit")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			hs, err := openHistory(cfg)
			if err != nil {
				return err
			}
			defer hs.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				runs, err := hs.Runs(ctx)
				if err != nil {
					return fmt.Errorf("list runs: %w", err)
				}
				if limit > 0 && limit < len(runs) {
					runs = runs[:limit]
				}
				if jsonOut {
					if runs == nil {
						runs = []store.Run{}
					}
					return json.NewEncoder(out).Encode(runs)
				}
				printRuns(out, runs)
				return nil
			}

			days, err := hs.Days(ctx, args[0])
			if err != nil {
				return fmt.Errorf("run history: %w", err)
			}
			if limit > 0 && limit < len(days) {
				days = days[len(days)-limit:]
			}
			if jsonOut {
				if days == nil {
					days = []store.Day{}
				}
				return json.NewEncoder(out).Encode(days)
			}
			printDays(out, days)
			return nil
		},
	}

	cmd.Flags().Int("limit", 0, "Show at most N runs, or the last N days")

	return cmd
}

func printRuns(w io.Writer, runs []store.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	for _, r := range runs {
		fmt.Fprintf(w, "%s  %s  seed=%d  tracts=%d  population=%d  rates=%.3f/%.3f/%.3f\n",
			r.ID, r.CreatedAt.Local().Format("2006-01-02 15:04:05"), r.Seed, r.Tracts, r.Population,
			r.InfectionRate, r.RecoveryRate, r.MortalityRate)
	}
}

func printDays(w io.Writer, days []store.Day) {
	if len(days) == 0 {
		fmt.Fprintln(w, "No days recorded.")
		return
	}
	fmt.Fprintf(w, "%5s %10s %10s %10s %8s %8s %8s\n", "day", "S", "I", "R", "D", "+inf", "tracts")
	for _, d := range days {
		fmt.Fprintf(w, "%5d %10d %10d %10d %8d %8d %8d\n",
			d.Day, d.Susceptible, d.Infectious, d.Recovered, d.Deceased, d.NewInfections, d.InfectedTracts)
	}
}
