package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/cura/internal/graph"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the tract graph for structural issues",
		Long: `Validate the tract graph for structural issues.

This command checks for:
  - Dangling references (neighbors that name unknown tracts)
  - Asymmetric adjacency (A lists B but B does not list A)
  - Isolated and zero-population tracts
  - Disconnected components

None of these stop a simulation from running. Use --strict to exit
non-zero when any dangling reference is found.

Examples:
  cura validate --graph us_census_graph.json
  cura validate --nodes tract_nodes.csv --neighbors tract_neighbors.json --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			strict, _ := cmd.Flags().GetBool("strict")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			g, err := loadGraph(cfg)
			if err != nil {
				return err
			}

			report := g.Validate()
			if jsonOut {
				if err := json.NewEncoder(cmd.OutOrStdout()).Encode(report); err != nil {
					return err
				}
			} else {
				printReport(cmd, report, g.TotalPopulation())
			}

			if strict && len(report.Dangling) > 0 {
				return fmt.Errorf("graph has %d dangling references", len(report.Dangling))
			}
			return nil
		},
	}

	cmd.Flags().Bool("strict", false, "Fail on dangling references")

	return cmd
}

func printReport(cmd *cobra.Command, r graph.Report, population int) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Tracts:            %d\n", r.Tracts)
	fmt.Fprintf(out, "Population:        %d\n", population)
	fmt.Fprintf(out, "Edges:             %d\n", r.Edges)
	fmt.Fprintf(out, "Components:        %d (largest %d tracts)\n", r.Components, r.LargestComponent)
	fmt.Fprintf(out, "Asymmetric links:  %d\n", r.Asymmetric)
	fmt.Fprintf(out, "Zero population:   %d\n", r.ZeroPopulation)
	fmt.Fprintf(out, "Isolated tracts:   %d\n", len(r.Isolated))
	fmt.Fprintf(out, "Dangling refs:     %d\n", len(r.Dangling))

	const maxShown = 10
	for i, d := range r.Dangling {
		if i == maxShown {
			fmt.Fprintf(out, "  ... and %d more\n", len(r.Dangling)-maxShown)
			break
		}
		fmt.Fprintf(out, "  %s -> %s\n", d.TractID, d.NeighborID)
	}

	if len(r.Dangling) == 0 && r.Asymmetric == 0 && r.Components <= 1 {
		fmt.Fprintln(out, "\nGraph is consistent.")
	}
}
