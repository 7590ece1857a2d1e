package checkpoint

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nvandessel/cura/internal/epidemic"
	"github.com/nvandessel/cura/internal/graph"
	"github.com/nvandessel/cura/internal/tract"
)

func newEngine(t *testing.T) *epidemic.Engine {
	t.Helper()
	a := tract.New("A", 0, 0, 1000, 1, 500, 0)
	a.SetNeighbors([]string{"B"})
	b := tract.New("B", 0, 0, 800, 1, 500, 0)
	b.SetNeighbors([]string{"A"})

	g, err := graph.New([]tract.Tract{a, b})
	if err != nil {
		t.Fatalf("graph.New: %v", err)
	}
	e, err := epidemic.New(g, epidemic.Params{InfectionRate: 0.3, RecoveryRate: 0.05, MortalityRate: 0.01}, epidemic.WithSeed(11))
	if err != nil {
		t.Fatalf("epidemic.New: %v", err)
	}
	if _, err := e.SeedInfectionAt("A", 20); err != nil {
		t.Fatalf("SeedInfectionAt: %v", err)
	}
	return e
}

func TestSaveLoad(t *testing.T) {
	e := newEngine(t)
	if _, err := e.Run(10); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "ckpt", FileName("run-1", e.Day()))

	if err := Save(path, "run-1", e); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	ck, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if ck.Header.Version != FormatVersion || ck.Header.RunID != "run-1" || ck.Header.Day != 10 || ck.Header.Tracts != 2 {
		t.Errorf("Header = %+v", ck.Header)
	}
	if ck.State.Seed != 11 {
		t.Errorf("Seed = %d, want 11", ck.State.Seed)
	}

	want := e.State()
	for id, c := range want.Compartments {
		if ck.State.Compartments[id] != c {
			t.Errorf("tract %s = %+v, want %+v", id, ck.State.Compartments[id], c)
		}
	}

	// Restore into a fresh engine over the same graph.
	fresh := newEngine(t)
	if err := fresh.Restore(ck.State); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if fresh.Day() != 10 || fresh.Stats().Infectious != e.Stats().Infectious {
		t.Errorf("restored day=%d infectious=%d", fresh.Day(), fresh.Stats().Infectious)
	}
	for i := 0; i < 5; i++ {
		if got, want := fresh.Step(), e.Step(); got != want {
			t.Fatalf("step %d after restore = %+v, want %+v", i+1, got, want)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permissions = %o, want 0600", perm)
	}
}

func TestVerify_DetectsCorruption(t *testing.T) {
	e := newEngine(t)
	path := filepath.Join(t.TempDir(), "c.ckpt")
	if err := Save(path, "r", e); err != nil {
		t.Fatal(err)
	}
	if err := Verify(path); err != nil {
		t.Fatalf("Verify() on fresh file error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)-1] ^= 0xff
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}

	if err := Verify(path); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("Verify() error = %v, want ErrChecksumMismatch", err)
	}
	if _, err := Load(path); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("Load() error = %v, want ErrChecksumMismatch", err)
	}

	// Header stays readable.
	h, err := ReadHeader(path)
	if err != nil || h.RunID != "r" {
		t.Errorf("ReadHeader() = %+v, %v", h, err)
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"not json", "hello\n"},
		{"wrong version", `{"version":1,"checksum":"x"}` + "\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name)
			if err := os.WriteFile(path, []byte(tt.content), 0600); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("Load() should fail")
			}
			if err := Verify(path); err == nil {
				t.Error("Verify() should fail")
			}
		})
	}

	if _, err := Load(filepath.Join(dir, "missing")); err == nil {
		t.Error("Load() of missing file should fail")
	}
}

func TestRetention(t *testing.T) {
	dir := t.TempDir()
	e := newEngine(t)
	for day := 1; day <= 4; day++ {
		e.Step()
		if err := Save(filepath.Join(dir, FileName("run", day)), "run", e); err != nil {
			t.Fatal(err)
		}
		// Distinct header timestamps.
		time.Sleep(5 * time.Millisecond)
	}
	// Unrelated file is ignored.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	list, err := List(dir)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 4 {
		t.Fatalf("List() returned %d, want 4", len(list))
	}
	if list[0].Day != 4 || list[3].Day != 1 {
		t.Errorf("List() order = %d..%d, want newest first", list[0].Day, list[3].Day)
	}

	deleted, err := ApplyRetention(dir, &CountPolicy{MaxCount: 2})
	if err != nil {
		t.Fatalf("ApplyRetention() error = %v", err)
	}
	if len(deleted) != 2 {
		t.Errorf("deleted %d, want 2", len(deleted))
	}
	left, _ := List(dir)
	if len(left) != 2 || left[1].Day != 3 {
		t.Errorf("remaining = %+v", left)
	}
}

func TestApplyRetention_RunScoped(t *testing.T) {
	dir := t.TempDir()
	for _, run := range []string{"other", "mine"} {
		e := newEngine(t)
		for day := 1; day <= 3; day++ {
			e.Step()
			if err := Save(filepath.Join(dir, FileName(run, day)), run, e); err != nil {
				t.Fatal(err)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	deleted, err := ApplyRetention(dir, &RunPolicy{RunID: "mine", Policy: &CountPolicy{MaxCount: 1}})
	if err != nil {
		t.Fatalf("ApplyRetention() error = %v", err)
	}
	if len(deleted) != 2 {
		t.Errorf("deleted %d, want 2", len(deleted))
	}

	left, err := List(dir)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	perRun := make(map[string][]int)
	for _, c := range left {
		perRun[c.RunID] = append(perRun[c.RunID], c.Day)
	}
	if got := perRun["other"]; len(got) != 3 {
		t.Errorf("other run kept days %v, want all 3", got)
	}
	if got := perRun["mine"]; len(got) != 1 || got[0] != 3 {
		t.Errorf("own run kept days %v, want [3]", got)
	}
}

func TestRunPolicy(t *testing.T) {
	cps := []Info{
		{Path: "/c/b3", RunID: "b"},
		{Path: "/c/a2", RunID: "a"},
		{Path: "/c/b2", RunID: "b"},
		{Path: "/c/x", RunID: ""},
		{Path: "/c/a1", RunID: "a"},
		{Path: "/c/b1", RunID: "b"},
	}

	tests := []struct {
		name  string
		run   string
		max   int
		paths []string
	}{
		{"trims own run only", "b", 1, []string{"/c/b3", "/c/a2", "/c/x", "/c/a1"}},
		{"keep zero of own run", "a", 0, []string{"/c/b3", "/c/b2", "/c/x", "/c/b1"}},
		{"unknown run keeps all", "z", 0, []string{"/c/b3", "/c/a2", "/c/b2", "/c/x", "/c/a1", "/c/b1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := (&RunPolicy{RunID: tt.run, Policy: &CountPolicy{MaxCount: tt.max}}).Apply(cps)
			if len(got) != len(tt.paths) {
				t.Fatalf("kept %+v, want %v", got, tt.paths)
			}
			for i, c := range got {
				if c.Path != tt.paths[i] {
					t.Errorf("kept[%d] = %s, want %s", i, c.Path, tt.paths[i])
				}
			}
		})
	}
}

func TestPolicies(t *testing.T) {
	now := time.Now()
	cps := []Info{
		{Path: "/c/4", CreatedAt: now.Add(-1 * time.Hour)},
		{Path: "/c/3", CreatedAt: now.Add(-30 * time.Hour)},
		{Path: "/c/2", CreatedAt: now.Add(-50 * time.Hour)},
		{Path: "/c/1", CreatedAt: now.Add(-90 * time.Hour)},
	}

	if got := (&AgePolicy{MaxAge: 24 * time.Hour}).Apply(cps); len(got) != 1 {
		t.Errorf("AgePolicy kept %d, want 1", len(got))
	}
	composite := &CompositePolicy{Policies: []RetentionPolicy{
		&CountPolicy{MaxCount: 1},
		&AgePolicy{MaxAge: 60 * time.Hour},
	}}
	if got := composite.Apply(cps); len(got) != 3 || got[2].Path != "/c/2" {
		t.Errorf("CompositePolicy kept %+v", got)
	}
	if got := (&CountPolicy{MaxCount: 10}).Apply(cps); len(got) != 4 {
		t.Errorf("CountPolicy kept %d, want 4", len(got))
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"720h", 720 * time.Hour, false},
		{"30d", 30 * 24 * time.Hour, false},
		{"2w", 14 * 24 * time.Hour, false},
		{"", 0, true},
		{"x", 0, true},
		{"5y", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDuration(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseDuration(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestFileName(t *testing.T) {
	if got := FileName("abc", 42); got != "cura-abc-d000042.ckpt" {
		t.Errorf("FileName() = %q", got)
	}
}
