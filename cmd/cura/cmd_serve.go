package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/cura/internal/api"
	"github.com/nvandessel/cura/internal/metrics"
	curaotel "github.com/nvandessel/cura/internal/otel"
	"github.com/nvandessel/cura/internal/runner"
	"github.com/nvandessel/cura/internal/visualization"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the live map and HTTP API",
		Long: `Start the HTTP API with the live map page, run control endpoints,
statistics, run history and Prometheus metrics on /metrics.

Runs are started from the page or with POST /api/simulation/start.
Tracing is exported over OTLP/HTTP when telemetry is enabled in config.

Examples:
  cura serve --graph us_census_graph.json
  cura serve --graph g.json --addr :8080 --autostart
  cura serve --nodes tract_nodes.csv --neighbors tract_neighbors.json --open`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				cfg.Server.Addr = addr
			}
			open, _ := cmd.Flags().GetBool("open")
			autostart, _ := cmd.Flags().GetBool("autostart")

			logger := newLogger(cfg, cmd.ErrOrStderr())

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			stopOnSignal(ctx, cancel)

			shutdown, err := curaotel.Setup(ctx, cfg.Telemetry.Enabled, cfg.Telemetry.Endpoint, cfg.Telemetry.ServiceName)
			if err != nil {
				return fmt.Errorf("setup tracing: %w", err)
			}
			defer func() {
				flushCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
				defer done()
				if err := shutdown(flushCtx); err != nil {
					logger.Warn("tracing shutdown", "error", err)
				}
			}()

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

			m := metrics.New()
			r, err := runner.New(g,
				runner.WithHistory(hs),
				runner.WithDayLogger(days),
				runner.WithMetrics(m),
				runner.WithLogger(logger),
				runner.WithInterval(cfg.Simulation.StepInterval),
			)
			if err != nil {
				return err
			}
			defer r.Close()

			defaults := startRequest(cfg)
			srv := api.NewServer(r,
				api.WithMetrics(m),
				api.WithStartLimit(cfg.Server.StartRate, cfg.Server.StartBurst),
				api.WithDefaults(defaults),
				api.WithLogger(logger),
			)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe(ctx, cfg.Server.Addr) }()

			addr, err := waitForAddr(srv, errCh)
			if err != nil {
				return err
			}

			url := "http://" + addr
			fmt.Fprintf(cmd.OutOrStdout(), "Serving %d census tracts at %s\n", g.Len(), url)
			fmt.Fprintf(cmd.OutOrStdout(), "Press Ctrl-C to stop.\n")

			if autostart {
				snap, err := r.Start(ctx, defaults)
				if err != nil {
					cancel()
					<-errCh
					return fmt.Errorf("autostart: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Started run %s\n", snap.RunID)
			}

			if open {
				if err := visualization.OpenBrowser(url); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Could not open browser: %v\nOpen %s manually.\n", err, url)
				}
			}

			// Block until server exits
			if err := <-errCh; err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().String("addr", "", "Listen address (default from config, localhost:8000)")
	cmd.Flags().Bool("open", false, "Open the map in a browser")
	cmd.Flags().Bool("autostart", false, "Start a run with the configured defaults")

	return cmd
}

// waitForAddr waits for srv to bind, or for it to fail first.
func waitForAddr(srv *api.Server, errCh <-chan error) (string, error) {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if addr := srv.Addr(); addr != "" {
			return addr, nil
		}
		select {
		case err := <-errCh:
			if err == nil {
				err = errors.New("server stopped")
			}
			return "", fmt.Errorf("server failed to start: %w", err)
		case <-time.After(10 * time.Millisecond):
		}
	}
	return "", fmt.Errorf("server failed to start")
}
