package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/cura/internal/checkpoint"
)

func newCheckpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect and maintain run checkpoints",
		Long: `Inspect and maintain checkpoint files written by 'cura run --checkpoint-dir'.

Examples:
  cura checkpoint list ./ckpt
  cura checkpoint verify ./ckpt/cura-<run>-d000060.ckpt
  cura checkpoint prune ./ckpt --keep 5 --max-age 7d`,
	}

	cmd.AddCommand(
		newCheckpointListCmd(),
		newCheckpointVerifyCmd(),
		newCheckpointPruneCmd(),
	)
	return cmd
}

func newCheckpointListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <dir>",
		Short: "List checkpoints, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			infos, err := checkpoint.List(args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				if infos == nil {
					infos = []checkpoint.Info{}
				}
				return json.NewEncoder(cmd.OutOrStdout()).Encode(infos)
			}
			if len(infos) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No checkpoints in %s\n", args[0])
				return nil
			}
			for _, c := range infos {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  run=%s  day=%d  %d bytes  %s\n",
					c.CreatedAt.Local().Format("2006-01-02 15:04:05"), c.RunID, c.Day, c.Size, c.Path)
			}
			return nil
		},
	}
}

func newCheckpointVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <file>",
		Short: "Verify checkpoint file integrity",
		Long: `Verify the integrity of a checkpoint file by checking its SHA-256 checksum.

Examples:
  cura checkpoint verify ./ckpt/cura-<run>-d000060.ckpt`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filePath := args[0]
			jsonOut, _ := cmd.Flags().GetBool("json")
			out := cmd.OutOrStdout()

			if err := checkpoint.Verify(filePath); err != nil {
				if jsonOut {
					json.NewEncoder(out).Encode(map[string]interface{}{
						"file":    filePath,
						"valid":   false,
						"error":   err.Error(),
						"message": "Checksum verification FAILED",
					})
				} else {
					fmt.Fprintf(out, "FAILED: %v\n", err)
					fmt.Fprintf(out, "  File: %s\n", filePath)
				}
				return fmt.Errorf("checksum verification failed")
			}

			h, err := checkpoint.ReadHeader(filePath)
			if err != nil {
				return err
			}
			if jsonOut {
				return json.NewEncoder(out).Encode(map[string]interface{}{
					"file":    filePath,
					"version": h.Version,
					"valid":   true,
					"run_id":  h.RunID,
					"day":     h.Day,
					"tracts":  h.Tracts,
					"message": "Checksum verified",
				})
			}
			fmt.Fprintf(out, "OK: checksum verified\n")
			fmt.Fprintf(out, "  File:   %s\n", filePath)
			fmt.Fprintf(out, "  Run:    %s\n", h.RunID)
			fmt.Fprintf(out, "  Day:    %d\n", h.Day)
			fmt.Fprintf(out, "  Tracts: %d\n", h.Tracts)
			return nil
		},
	}
}

func newCheckpointPruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune <dir>",
		Short: "Delete checkpoints outside the retention policy",
		Long: `Delete checkpoints that no retention rule keeps. A checkpoint survives
if it is among the --keep newest or younger than --max-age.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			keep, _ := cmd.Flags().GetInt("keep")
			maxAge, _ := cmd.Flags().GetString("max-age")

			var policies []checkpoint.RetentionPolicy
			if keep > 0 {
				policies = append(policies, &checkpoint.CountPolicy{MaxCount: keep})
			}
			if maxAge != "" {
				d, err := checkpoint.ParseDuration(maxAge)
				if err != nil {
					return fmt.Errorf("invalid --max-age: %w", err)
				}
				policies = append(policies, &checkpoint.AgePolicy{MaxAge: d})
			}
			if len(policies) == 0 {
				return fmt.Errorf("nothing to prune by: set --keep or --max-age")
			}

			deleted, err := checkpoint.ApplyRetention(args[0], &checkpoint.CompositePolicy{Policies: policies})
			if err != nil {
				return err
			}
			if jsonOut {
				if deleted == nil {
					deleted = []string{}
				}
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{"deleted": deleted})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d checkpoint(s)\n", len(deleted))
			for _, p := range deleted {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", p)
			}
			return nil
		},
	}

	cmd.Flags().Int("keep", 0, "Keep the N newest checkpoints")
	cmd.Flags().String("max-age", "", "Keep checkpoints younger than this (e.g. 72h, 7d, 2w)")

	return cmd
}
