package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	config := Default()

	if config.Simulation.InfectionRate != 0.05 {
		t.Errorf("expected InfectionRate 0.05, got %f", config.Simulation.InfectionRate)
	}
	if config.Simulation.RecoveryRate != 0.03 {
		t.Errorf("expected RecoveryRate 0.03, got %f", config.Simulation.RecoveryRate)
	}
	if config.Simulation.MortalityRate != 0.005 {
		t.Errorf("expected MortalityRate 0.005, got %f", config.Simulation.MortalityRate)
	}
	if config.Simulation.SeedCount != 5 {
		t.Errorf("expected SeedCount 5, got %d", config.Simulation.SeedCount)
	}
	if config.Simulation.Speed != 1.0 {
		t.Errorf("expected Speed 1.0, got %f", config.Simulation.Speed)
	}
	if config.History.Driver != "sqlite" {
		t.Errorf("expected History.Driver 'sqlite', got '%s'", config.History.Driver)
	}
	if config.Logging.Level != "info" {
		t.Errorf("expected Logging.Level 'info', got '%s'", config.Logging.Level)
	}
	if config.Telemetry.Enabled {
		t.Error("expected telemetry disabled by default")
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
simulation:
  infection_rate: 0.2
  recovery_rate: 0.1
  seed: 42
  step_interval: 250ms
  speed: 2

data:
  graph_json: /data/us_census_graph.json
  largest_component: true

history:
  driver: memory

logging:
  level: debug
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	config, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if config.Simulation.InfectionRate != 0.2 {
		t.Errorf("expected InfectionRate 0.2, got %f", config.Simulation.InfectionRate)
	}
	if config.Simulation.Seed != 42 {
		t.Errorf("expected Seed 42, got %d", config.Simulation.Seed)
	}
	if config.Simulation.StepInterval != 250*time.Millisecond {
		t.Errorf("expected StepInterval 250ms, got %v", config.Simulation.StepInterval)
	}
	if got := config.TickInterval(); got != 125*time.Millisecond {
		t.Errorf("expected TickInterval 125ms, got %v", got)
	}
	if !config.Data.LargestComponent || config.Data.GraphJSON != "/data/us_census_graph.json" {
		t.Errorf("unexpected Data config: %+v", config.Data)
	}
	if config.History.Driver != "memory" {
		t.Errorf("expected Driver 'memory', got '%s'", config.History.Driver)
	}

	// Omitted fields keep defaults.
	if config.Simulation.MortalityRate != 0.005 {
		t.Errorf("expected default MortalityRate 0.005, got %f", config.Simulation.MortalityRate)
	}
	if config.Server.Addr != "localhost:8000" {
		t.Errorf("expected default Addr, got '%s'", config.Server.Addr)
	}
}

func TestLoadFromFile_NotFound(t *testing.T) {
	if _, err := LoadFromFile("/nonexistent/path/config.yaml"); err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadFromFile_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("simulation: [not a map"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	if _, err := LoadFromFile(configPath); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	if err := os.MkdirAll(filepath.Join(home, ".cura"), 0755); err != nil {
		t.Fatal(err)
	}
	content := "simulation:\n  infection_rate: 0.3\n  seed_count: 2\nlogging:\n  level: debug\n"
	if err := os.WriteFile(filepath.Join(home, ".cura", "config.yaml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CURA_SEED_COUNT", "9")
	t.Setenv("CURA_SEED", "18446744073709551615")
	t.Setenv("CURA_HISTORY_DRIVER", "memory")
	t.Setenv("CURA_STEP_INTERVAL", "2s")

	config, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if config.Simulation.InfectionRate != 0.3 {
		t.Errorf("expected file InfectionRate 0.3, got %f", config.Simulation.InfectionRate)
	}
	if config.Simulation.SeedCount != 9 {
		t.Errorf("expected env SeedCount 9, got %d", config.Simulation.SeedCount)
	}
	if config.Simulation.Seed != 18446744073709551615 {
		t.Errorf("expected max uint64 seed, got %d", config.Simulation.Seed)
	}
	if config.History.Driver != "memory" {
		t.Errorf("expected env driver 'memory', got '%s'", config.History.Driver)
	}
	if config.Simulation.StepInterval != 2*time.Second {
		t.Errorf("expected env StepInterval 2s, got %v", config.Simulation.StepInterval)
	}
	if config.Logging.Level != "debug" {
		t.Errorf("expected file level 'debug', got '%s'", config.Logging.Level)
	}
}

func TestLoadPath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "alt.yaml")
	if err := os.WriteFile(path, []byte("server:\n  addr: 0.0.0.0:9000\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CURA_MAX_DAYS", "120")

	config, err := LoadPath(path)
	if err != nil {
		t.Fatalf("LoadPath() error = %v", err)
	}
	if config.Server.Addr != "0.0.0.0:9000" {
		t.Errorf("Addr = %q, want file value", config.Server.Addr)
	}
	if config.Simulation.MaxDays != 120 {
		t.Errorf("MaxDays = %d, want env value 120", config.Simulation.MaxDays)
	}

	if _, err := LoadPath(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestLoad_InvalidEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CURA_SEED_COUNT", "many")
	if _, err := Load(); err == nil {
		t.Error("expected error for unparsable CURA_SEED_COUNT")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*CuraConfig)
		wantErr string
	}{
		{"valid default", func(c *CuraConfig) {}, ""},
		{"infection rate above 1", func(c *CuraConfig) { c.Simulation.InfectionRate = 1.5 }, "infection_rate"},
		{"negative mortality", func(c *CuraConfig) { c.Simulation.MortalityRate = -0.1 }, "mortality_rate"},
		{"negative seed count", func(c *CuraConfig) { c.Simulation.SeedCount = -1 }, "seed_count"},
		{"zero speed", func(c *CuraConfig) { c.Simulation.Speed = 0 }, "speed"},
		{"zero interval", func(c *CuraConfig) { c.Simulation.StepInterval = 0 }, "step_interval"},
		{"negative max days", func(c *CuraConfig) { c.Simulation.MaxDays = -3 }, "max_days"},
		{"zero burst", func(c *CuraConfig) { c.Server.StartBurst = 0 }, "start_burst"},
		{"unknown driver", func(c *CuraConfig) { c.History.Driver = "postgres" }, "history driver"},
		{"unknown level", func(c *CuraConfig) { c.Logging.Level = "verbose" }, "log level"},
		{"empty level", func(c *CuraConfig) { c.Logging.Level = "" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.modify(config)
			err := config.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestPaths(t *testing.T) {
	config := Default()
	config.Data.Dir = "/srv/cura"

	if got, _ := config.DataDir(); got != "/srv/cura" {
		t.Errorf("DataDir() = %q", got)
	}
	if got, _ := config.HistoryPath(); got != filepath.Join("/srv/cura", "history.db") {
		t.Errorf("HistoryPath() = %q", got)
	}

	config.History.Path = "/tmp/h.db"
	if got, _ := config.HistoryPath(); got != "/tmp/h.db" {
		t.Errorf("HistoryPath() with override = %q", got)
	}

	p, err := Path()
	if err != nil {
		t.Fatalf("Path() error = %v", err)
	}
	if !strings.HasSuffix(p, filepath.Join(".cura", "config.yaml")) {
		t.Errorf("Path() = %q", p)
	}
}

func TestParams(t *testing.T) {
	config := Default()
	config.Simulation.SocioeconomicImpact = 0.4
	p := config.Params()
	if p.InfectionRate != 0.05 || p.SocioeconomicImpact != 0.4 {
		t.Errorf("Params() = %+v", p)
	}
}
