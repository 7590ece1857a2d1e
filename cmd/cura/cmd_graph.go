package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nvandessel/cura/internal/checkpoint"
	"github.com/nvandessel/cura/internal/epidemic"
	"github.com/nvandessel/cura/internal/graph"
	"github.com/nvandessel/cura/internal/visualization"
)

func newGraphCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Render the tract graph",
		Long: `Output the tract graph in DOT (Graphviz), JSON, GeoJSON, or as the
live map HTML page.

Tracts are colored red while infectious and blue otherwise. With
--checkpoint the graph is rendered in the state saved in that checkpoint.
The html format writes a page that polls a running 'cura serve' at --api.

Examples:
  cura graph --graph g.json | neato -Tsvg > tracts.svg
  cura graph --graph g.json --format geojson -o tracts.geojson
  cura graph --graph g.json --checkpoint ./ckpt/cura-<run>-d000060.ckpt --format json
  cura graph --format html --api http://localhost:8000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatName, _ := cmd.Flags().GetString("format")
			output, _ := cmd.Flags().GetString("output")
			ckPath, _ := cmd.Flags().GetString("checkpoint")
			apiBase, _ := cmd.Flags().GetString("api")
			noOpen, _ := cmd.Flags().GetBool("no-open")

			format, err := visualization.ParseFormat(formatName)
			if err != nil {
				return err
			}

			if format == visualization.FormatHTML {
				return writeMapPage(cmd, apiBase, output, noOpen)
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			g, err := loadGraph(cfg)
			if err != nil {
				return err
			}
			if ckPath != "" {
				g, err = applyCheckpoint(g, ckPath)
				if err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				defer f.Close()
				out = f
			}
			return renderGraph(out, g, format)
		},
	}

	cmd.Flags().String("format", "dot", "Output format: dot, json, geojson, or html")
	cmd.Flags().StringP("output", "o", "", "Output file path (default stdout; html defaults to a temp file)")
	cmd.Flags().String("checkpoint", "", "Render the state saved in this checkpoint")
	cmd.Flags().String("api", "", "API base URL for the html page (default same origin)")
	cmd.Flags().Bool("no-open", false, "Don't open browser after generating HTML")

	return cmd
}

func renderGraph(w io.Writer, g *graph.Graph, format visualization.Format) error {
	switch format {
	case visualization.FormatDOT:
		_, err := fmt.Fprint(w, visualization.RenderDOT(g))
		return err

	case visualization.FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(visualization.RenderJSON(g)); err != nil {
			return fmt.Errorf("encode JSON: %w", err)
		}
		return nil

	case visualization.FormatGeoJSON:
		data, err := visualization.GeoJSON(epidemic.Views(g)).MarshalJSON()
		if err != nil {
			return fmt.Errorf("encode GeoJSON: %w", err)
		}
		_, err = w.Write(append(data, '\n'))
		return err

	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}

// applyCheckpoint returns a copy of g carrying the compartments saved in
// the checkpoint at path.
func applyCheckpoint(g *graph.Graph, path string) (*graph.Graph, error) {
	ck, err := checkpoint.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	e, err := epidemic.New(g.Clone(), ck.State.Params, epidemic.WithSeed(ck.State.Seed))
	if err != nil {
		return nil, err
	}
	if err := e.Restore(ck.State); err != nil {
		return nil, fmt.Errorf("restore checkpoint: %w", err)
	}
	return e.Graph(), nil
}

// writeMapPage writes the live map page and opens it.
func writeMapPage(cmd *cobra.Command, apiBase, output string, noOpen bool) error {
	page, err := visualization.RenderHTML(visualization.PageOptions{Title: "cura", APIBase: apiBase})
	if err != nil {
		return fmt.Errorf("render HTML: %w", err)
	}

	outPath := output
	if outPath == "" {
		outPath = filepath.Join(os.TempDir(), "cura-map.html")
	}
	if err := os.WriteFile(outPath, page, 0644); err != nil {
		return fmt.Errorf("write HTML file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Map written to %s\n", outPath)

	if !noOpen {
		if err := visualization.OpenBrowser(outPath); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Could not open browser: %v\nOpen %s manually.\n", err, outPath)
		}
	}
	return nil
}
