package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nvandessel/cura/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show cura configuration",
		Long: `Show the effective configuration and where it is read from.

Configuration is read from ~/.cura/config.yaml (or --config), then
overridden by CURA_* environment variables.

Examples:
  cura config show                       # Effective settings as YAML
  cura config show --json
  cura config path
  CURA_INFECTION_RATE=0.2 cura config show`,
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigPathCmd(),
	)

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config, data and history locations",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfgPath, _ := cmd.Flags().GetString("config")
			if cfgPath == "" {
				p, err := config.Path()
				if err != nil {
					return err
				}
				cfgPath = p
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			dataDir, err := cfg.DataDir()
			if err != nil {
				return err
			}
			historyPath, err := cfg.HistoryPath()
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{
					"config":  cfgPath,
					"data":    dataDir,
					"history": historyPath,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config:  %s\n", cfgPath)
			fmt.Fprintf(cmd.OutOrStdout(), "data:    %s\n", dataDir)
			fmt.Fprintf(cmd.OutOrStdout(), "history: %s\n", historyPath)
			return nil
		},
	}
}
