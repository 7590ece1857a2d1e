package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvandessel/cura/internal/census"
	"github.com/nvandessel/cura/internal/checkpoint"
	"github.com/nvandessel/cura/internal/graph"
	"github.com/nvandessel/cura/internal/store"
	"github.com/nvandessel/cura/internal/tract"
)

// isolateHome sets HOME to a temp directory to avoid touching real ~/.cura/
// MUST be called for any test that opens the history store
func isolateHome(t *testing.T) string {
	t.Helper()
	home := filepath.Join(t.TempDir(), "home")
	if err := os.MkdirAll(home, 0700); err != nil {
		t.Fatalf("Failed to create temp home: %v", err)
	}
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	return home
}

// writeGraph writes a three-tract chain A - B - C. extra neighbors are
// appended to A.
func writeGraph(t *testing.T, extra ...string) string {
	t.Helper()
	a := tract.New("A", -80.1, 40.1, 1000, 1, 1000, 50000)
	a.SetNeighbors(append([]string{"B"}, extra...))
	b := tract.New("B", -80.2, 40.2, 1000, 1, 1000, 60000)
	b.SetNeighbors([]string{"A", "C"})
	c := tract.New("C", -80.3, 40.3, 1000, 1, 1000, 70000)
	c.SetNeighbors([]string{"B"})

	g, err := graph.New([]tract.Tract{a, b, c})
	if err != nil {
		t.Fatalf("graph.New: %v", err)
	}

	path := filepath.Join(t.TempDir(), "graph.json")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := census.WriteGraphJSON(f, g); err != nil {
		t.Fatalf("WriteGraphJSON: %v", err)
	}
	return path
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func decodeLines(t *testing.T, out string) []dayLine {
	t.Helper()
	var lines []dayLine
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		var l dayLine
		if err := json.Unmarshal(sc.Bytes(), &l); err != nil {
			t.Fatalf("decode %q: %v", sc.Text(), err)
		}
		lines = append(lines, l)
	}
	return lines
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	want := []string{"version", "run", "serve", "mcp-server", "validate", "graph", "history", "checkpoint", "config"}
	for _, name := range want {
		found := false
		for _, c := range root.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version", "--json")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if got["version"] != version {
		t.Errorf("version = %q, want %q", got["version"], version)
	}

	out, _ = execute(t, "version")
	if !strings.HasPrefix(out, "cura version ") {
		t.Errorf("text output = %q", out)
	}
}

func TestRunCmd_JSON(t *testing.T) {
	isolateHome(t)
	path := writeGraph(t)

	out, err := execute(t, "run", "--graph", path, "--days", "5", "--seed", "3", "--tract", "A", "--count", "5", "--json")
	if err != nil {
		t.Fatalf("run error = %v", err)
	}
	lines := decodeLines(t, out)
	if len(lines) != 5 {
		t.Fatalf("got %d lines, want 5:\n%s", len(lines), out)
	}
	for i, l := range lines {
		if l.Report.Day != i+1 || l.Stats.Day != i+1 {
			t.Errorf("line %d: day %d / %d", i, l.Report.Day, l.Stats.Day)
		}
		if l.Stats.TotalPopulation != 3000 {
			t.Errorf("line %d: population %d", i, l.Stats.TotalPopulation)
		}
		if l.RunID != lines[0].RunID {
			t.Errorf("line %d: run id changed", i)
		}
	}

	out, err = execute(t, "history", "--json")
	if err != nil {
		t.Fatalf("history error = %v", err)
	}
	var runs []store.Run
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != lines[0].RunID || runs[0].Seed != 3 {
		t.Fatalf("runs = %+v", runs)
	}

	out, err = execute(t, "history", runs[0].ID, "--json")
	if err != nil {
		t.Fatalf("history <id> error = %v", err)
	}
	var days []store.Day
	if err := json.Unmarshal([]byte(out), &days); err != nil {
		t.Fatalf("decode days: %v", err)
	}
	if len(days) != 5 || days[4].Infectious != lines[4].Stats.Infectious {
		t.Errorf("days = %+v", days)
	}
}

func TestRunCmd_Text(t *testing.T) {
	isolateHome(t)
	path := writeGraph(t)

	out, err := execute(t, "run", "--graph", path, "--days", "2", "--tract", "B")
	if err != nil {
		t.Fatalf("run error = %v", err)
	}
	for _, want := range []string{"Run ", "day    1", "day    2", "Day 2:"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunCmd_CheckpointAndResume(t *testing.T) {
	isolateHome(t)
	path := writeGraph(t)
	dir := filepath.Join(t.TempDir(), "ckpt")

	if _, err := execute(t, "run", "--graph", path, "--days", "4", "--seed", "5", "--tract", "A", "--count", "20",
		"--checkpoint-dir", dir, "--checkpoint-every", "2", "--keep", "1", "--json"); err != nil {
		t.Fatalf("run error = %v", err)
	}

	infos, err := checkpoint.List(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 || infos[0].Day != 4 {
		t.Fatalf("checkpoints = %+v, want only day 4", infos)
	}
	ck := infos[0].Path

	out, err := execute(t, "checkpoint", "verify", ck)
	if err != nil || !strings.Contains(out, "OK") {
		t.Fatalf("verify = %q, %v", out, err)
	}

	out, err = execute(t, "run", "--graph", path, "--resume", ck, "--days", "2", "--json")
	if err != nil {
		t.Fatalf("resume error = %v", err)
	}
	lines := decodeLines(t, out)
	if len(lines) != 2 || lines[0].Report.Day != 5 || lines[1].Report.Day != 6 {
		t.Fatalf("resumed lines = %+v", lines)
	}
	if lines[0].RunID == infos[0].RunID {
		t.Error("resumed run reused the checkpoint's run id")
	}
}

func TestRunCmd_RetentionKeepsOtherRuns(t *testing.T) {
	isolateHome(t)
	path := writeGraph(t)
	dir := filepath.Join(t.TempDir(), "ckpt")

	for _, seed := range []string{"5", "6"} {
		if _, err := execute(t, "run", "--graph", path, "--days", "4", "--seed", seed, "--tract", "A", "--count", "20",
			"--checkpoint-dir", dir, "--checkpoint-every", "2", "--keep", "1", "--json"); err != nil {
			t.Fatalf("run with seed %s error = %v", seed, err)
		}
	}

	infos, err := checkpoint.List(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 2 {
		t.Fatalf("checkpoints = %+v, want one per run", infos)
	}
	if infos[0].RunID == infos[1].RunID {
		t.Errorf("both checkpoints belong to run %s", infos[0].RunID)
	}
	for _, info := range infos {
		if info.Day != 4 {
			t.Errorf("run %s kept day %d, want 4", info.RunID, info.Day)
		}
	}
}

func TestRunCmd_FlagErrors(t *testing.T) {
	isolateHome(t)
	path := writeGraph(t)
	tests := []struct {
		name string
		args []string
	}{
		{"zero days", []string{"run", "--graph", path, "--days", "0"}},
		{"keep without dir", []string{"run", "--graph", path, "--keep", "2"}},
		{"unknown tract", []string{"run", "--graph", path, "--tract", "Z"}},
		{"bad log level", []string{"run", "--graph", path, "--log-level", "loud"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := execute(t, tt.args...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNoGraphConfigured(t *testing.T) {
	isolateHome(t)
	if _, err := execute(t, "validate"); !errors.Is(err, errNoGraph) {
		t.Errorf("validate error = %v, want errNoGraph", err)
	}
}

func TestValidateCmd(t *testing.T) {
	isolateHome(t)
	path := writeGraph(t, "Z")

	out, err := execute(t, "validate", "--graph", path)
	if err != nil {
		t.Fatalf("validate error = %v", err)
	}
	if !strings.Contains(out, "Dangling refs:     1") || !strings.Contains(out, "A -> Z") {
		t.Errorf("output:\n%s", out)
	}

	out, err = execute(t, "validate", "--graph", path, "--json")
	if err != nil {
		t.Fatal(err)
	}
	var report graph.Report
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatal(err)
	}
	if report.Tracts != 3 || report.Edges != 2 || len(report.Dangling) != 1 {
		t.Errorf("report = %+v", report)
	}

	if _, err := execute(t, "validate", "--graph", path, "--strict"); err == nil {
		t.Error("--strict should fail on dangling references")
	}
}

func TestGraphCmd(t *testing.T) {
	isolateHome(t)
	path := writeGraph(t)

	out, err := execute(t, "graph", "--graph", path)
	if err != nil {
		t.Fatalf("graph error = %v", err)
	}
	if !strings.HasPrefix(out, "graph cura {") || !strings.Contains(out, `"A" -- "B"`) {
		t.Errorf("dot output:\n%s", out)
	}

	out, err = execute(t, "graph", "--graph", path, "--format", "geojson")
	if err != nil {
		t.Fatalf("geojson error = %v", err)
	}
	var fc struct {
		Type     string            `json:"type"`
		Features []json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal([]byte(out), &fc); err != nil {
		t.Fatalf("decode geojson: %v", err)
	}
	if fc.Type != "FeatureCollection" || len(fc.Features) != 3 {
		t.Errorf("geojson = %s", out)
	}

	if _, err := execute(t, "graph", "--graph", path, "--format", "svg"); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestGraphCmd_HTML(t *testing.T) {
	isolateHome(t)
	outPath := filepath.Join(t.TempDir(), "map.html")

	out, err := execute(t, "graph", "--format", "html", "-o", outPath, "--no-open")
	if err != nil {
		t.Fatalf("graph html error = %v", err)
	}
	if !strings.Contains(out, outPath) {
		t.Errorf("output = %q", out)
	}
	page, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(page, []byte("<html")) {
		t.Error("page is not HTML")
	}
}

func TestCheckpointPruneCmd(t *testing.T) {
	isolateHome(t)
	if _, err := execute(t, "checkpoint", "prune", t.TempDir()); err == nil {
		t.Error("prune without a policy should fail")
	}
	if _, err := execute(t, "checkpoint", "prune", t.TempDir(), "--max-age", "soon"); err == nil {
		t.Error("prune with a bad duration should fail")
	}
	out, err := execute(t, "checkpoint", "prune", t.TempDir(), "--keep", "2", "--json")
	if err != nil || !strings.Contains(out, `"deleted":[]`) {
		t.Errorf("prune = %q, %v", out, err)
	}
}

func TestConfigCmd(t *testing.T) {
	home := isolateHome(t)
	t.Setenv("CURA_INFECTION_RATE", "0.25")

	out, err := execute(t, "config", "show", "--json")
	if err != nil {
		t.Fatalf("config show error = %v", err)
	}
	var cfg struct {
		Simulation struct {
			InfectionRate float64 `json:"infection_rate"`
		} `json:"simulation"`
	}
	if err := json.Unmarshal([]byte(out), &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Simulation.InfectionRate != 0.25 {
		t.Errorf("infection_rate = %v, want env 0.25", cfg.Simulation.InfectionRate)
	}

	out, err = execute(t, "config", "path")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, filepath.Join(home, ".cura", "config.yaml")) ||
		!strings.Contains(out, filepath.Join(home, ".cura", "history.db")) {
		t.Errorf("config path output:\n%s", out)
	}
}
