package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/cura/internal/mcp"
	"github.com/nvandessel/cura/internal/pathutil"
	"github.com/nvandessel/cura/internal/runner"
)

func newMCPServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp-server",
		Short: "Run as an MCP server over stdio",
		Long: `Expose the simulator to MCP clients over stdio.

Tools: cura_start, cura_step, cura_seed, cura_stats, cura_tract,
cura_history, cura_graph, cura_checkpoint, cura_restore. Every tool
call is rate limited and appended to <data dir>/audit.jsonl.

Checkpoint tools read and write only inside --checkpoint-dir
(default <data dir>/checkpoints).

Example client entry:
  {"command": "cura", "args": ["mcp-server", "--graph", "/data/us_census_graph.json"]}`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			// stdout carries the protocol; logs go to stderr.
			logger := newLogger(cfg, cmd.ErrOrStderr())

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
				runner.WithInterval(cfg.Simulation.StepInterval),
			)
			if err != nil {
				return err
			}

			dataDir, err := cfg.DataDir()
			if err != nil {
				return err
			}
			auditDir, _ := cmd.Flags().GetString("audit-dir")
			if auditDir == "" {
				auditDir = dataDir
			}
			if noAudit, _ := cmd.Flags().GetBool("no-audit"); noAudit {
				auditDir = ""
			}

			ckDir, _ := cmd.Flags().GetString("checkpoint-dir")
			if ckDir == "" {
				ckDir = pathutil.CheckpointDir(dataDir)
			}
			keep, _ := cmd.Flags().GetInt("keep")

			srv, err := mcp.NewServer(&mcp.Config{
				Name:           "cura",
				Version:        version,
				Runner:         r,
				Defaults:       startRequest(cfg),
				AuditDir:       auditDir,
				CheckpointDir:  ckDir,
				CheckpointKeep: keep,
				Logger:         logger,
			})
			if err != nil {
				return fmt.Errorf("create mcp server: %w", err)
			}
			return srv.Run(cmd.Context())
		},
	}

	cmd.Flags().String("audit-dir", "", "Directory for audit.jsonl (default: data dir)")
	cmd.Flags().Bool("no-audit", false, "Disable the tool call audit log")
	cmd.Flags().String("checkpoint-dir", "", "Directory cura_checkpoint and cura_restore are confined to (default: <data dir>/checkpoints)")
	cmd.Flags().Int("keep", mcp.DefaultCheckpointKeep, "Checkpoints retained by cura_checkpoint")

	return cmd
}
