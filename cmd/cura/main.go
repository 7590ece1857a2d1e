package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set by the release build via -ldflags.
var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cura",
		Short: "Census tract epidemic simulator",
		Long: `cura simulates the spread of an infectious disease across a graph of
census tracts. Each tract tracks susceptible, infectious, recovered and
deceased people; infection spreads inside tracts and along neighbor edges
one simulated day at a time.

Run it headless, serve the live map and HTTP API, or drive it from an
agent over MCP.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON (for agent consumption)")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.cura/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: info, debug, or trace")
	rootCmd.PersistentFlags().String("graph", "", "Graph JSON document keyed by GEOID")
	rootCmd.PersistentFlags().String("nodes", "", "Tract nodes CSV")
	rootCmd.PersistentFlags().String("neighbors", "", "Tract neighbors JSON")
	rootCmd.PersistentFlags().Bool("largest-component", false, "Keep only the largest connected component")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newServeCmd(),
		newMCPServerCmd(),
		newValidateCmd(),
		newGraphCmd(),
		newHistoryCmd(),
		newCheckpointCmd(),
		newConfigCmd(),
	)
	return rootCmd
}
