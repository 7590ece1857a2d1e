// Package config provides unified configuration loading for cura.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/nvandessel/cura/internal/epidemic"
	"github.com/nvandessel/cura/internal/logging"
	"github.com/nvandessel/cura/internal/store"
)

// CuraConfig contains all cura configuration settings.
type CuraConfig struct {
	Simulation SimulationConfig `json:"simulation" yaml:"simulation"`
	Data       DataConfig       `json:"data" yaml:"data"`
	Server     ServerConfig     `json:"server" yaml:"server"`
	History    HistoryConfig    `json:"history" yaml:"history"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
	Telemetry  TelemetryConfig  `json:"telemetry" yaml:"telemetry"`
}

// SimulationConfig holds the base rates and driver settings of a run.
type SimulationConfig struct {
	InfectionRate       float64 `json:"infection_rate" yaml:"infection_rate" env:"CURA_INFECTION_RATE"`
	RecoveryRate        float64 `json:"recovery_rate" yaml:"recovery_rate" env:"CURA_RECOVERY_RATE"`
	MortalityRate       float64 `json:"mortality_rate" yaml:"mortality_rate" env:"CURA_MORTALITY_RATE"`
	SocioeconomicImpact float64 `json:"socioeconomic_impact" yaml:"socioeconomic_impact" env:"CURA_SOCIOECONOMIC_IMPACT"`

	// SeedCount is the number of random tracts infected at start.
	SeedCount int `json:"seed_count" yaml:"seed_count" env:"CURA_SEED_COUNT"`

	// Seed fixes the random generator. 0 draws a fresh seed per run.
	Seed uint64 `json:"seed" yaml:"seed" env:"CURA_SEED"`

	// StepInterval is the wall-clock time per simulated day at speed 1.
	StepInterval time.Duration `json:"step_interval" yaml:"step_interval" env:"CURA_STEP_INTERVAL"`

	// Speed divides StepInterval. It never changes the algorithm.
	Speed float64 `json:"speed" yaml:"speed" env:"CURA_SPEED"`

	// MaxDays stops a served run after this many days. 0 means no limit.
	MaxDays int `json:"max_days" yaml:"max_days" env:"CURA_MAX_DAYS"`
}

// DataConfig locates the tract graph and the local data directory.
type DataConfig struct {
	// NodesCSV and NeighborsJSON are used together; GraphJSON takes
	// precedence when set.
	NodesCSV      string `json:"nodes_csv,omitempty" yaml:"nodes_csv,omitempty" env:"CURA_NODES_CSV"`
	NeighborsJSON string `json:"neighbors_json,omitempty" yaml:"neighbors_json,omitempty" env:"CURA_NEIGHBORS_JSON"`
	GraphJSON     string `json:"graph_json,omitempty" yaml:"graph_json,omitempty" env:"CURA_GRAPH_JSON"`

	// LargestComponent drops tracts outside the largest connected component.
	LargestComponent bool `json:"largest_component" yaml:"largest_component" env:"CURA_LARGEST_COMPONENT"`

	// Dir holds days.jsonl and, by default, history.db.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty" env:"CURA_DATA_DIR"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr" env:"CURA_ADDR"`

	// StartRate is the number of simulation starts allowed per minute.
	StartRate float64 `json:"start_rate" yaml:"start_rate" env:"CURA_START_RATE"`
	StartBurst int    `json:"start_burst" yaml:"start_burst" env:"CURA_START_BURST"`
}

// HistoryConfig selects the run history backend.
type HistoryConfig struct {
	// Driver is "sqlite" (default) or "memory".
	Driver string `json:"driver" yaml:"driver" env:"CURA_HISTORY_DRIVER"`

	// Path of the sqlite database. Empty means <data dir>/history.db.
	Path string `json:"path,omitempty" yaml:"path,omitempty" env:"CURA_HISTORY_PATH"`
}

// LoggingConfig configures cura's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables day tracing to <data dir>/days.jsonl.
	Level string `json:"level" yaml:"level" env:"CURA_LOG_LEVEL"`
}

// TelemetryConfig configures OpenTelemetry trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled" env:"CURA_OTEL_ENABLED"`
	Endpoint    string `json:"endpoint,omitempty" yaml:"endpoint,omitempty" env:"CURA_OTEL_ENDPOINT"`
	ServiceName string `json:"service_name" yaml:"service_name" env:"CURA_OTEL_SERVICE_NAME"`
}

// Default returns a CuraConfig with sensible defaults.
func Default() *CuraConfig {
	params := epidemic.DefaultParams()
	return &CuraConfig{
		Simulation: SimulationConfig{
			InfectionRate:       params.InfectionRate,
			RecoveryRate:        params.RecoveryRate,
			MortalityRate:       params.MortalityRate,
			SocioeconomicImpact: params.SocioeconomicImpact,
			SeedCount:           5,
			StepInterval:        time.Second,
			Speed:               1.0,
		},
		Server: ServerConfig{
			Addr:       "localhost:8000",
			StartRate:  10,
			StartBurst: 3,
		},
		History: HistoryConfig{
			Driver: store.DriverSQLite,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "cura",
		},
	}
}

// Path returns the default config file location, ~/.cura/config.yaml.
func Path() (string, error) {
	dir, err := store.CuraDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load loads configuration from the default locations and environment variables.
// Order: defaults -> ~/.cura/config.yaml -> environment variables
func Load() (*CuraConfig, error) {
	config := Default()

	if configPath, err := Path(); err == nil {
		if _, statErr := os.Stat(configPath); statErr == nil {
			fileConfig, loadErr := LoadFromFile(configPath)
			if loadErr != nil {
				return nil, fmt.Errorf("loading config file: %w", loadErr)
			}
			config = fileConfig
		}
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadPath is Load with an explicit config file in place of
// ~/.cura/config.yaml. An empty path behaves like Load.
func LoadPath(path string) (*CuraConfig, error) {
	if path == "" {
		return Load()
	}
	config, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file. Fields the
// file omits keep their defaults.
func LoadFromFile(path string) (*CuraConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return config, nil
}

// Validate checks that the configuration is valid.
func (c *CuraConfig) Validate() error {
	rates := []struct {
		name  string
		value float64
	}{
		{"infection_rate", c.Simulation.InfectionRate},
		{"recovery_rate", c.Simulation.RecoveryRate},
		{"mortality_rate", c.Simulation.MortalityRate},
		{"socioeconomic_impact", c.Simulation.SocioeconomicImpact},
	}
	for _, r := range rates {
		if r.value < 0 || r.value > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %f", r.name, r.value)
		}
	}

	if c.Simulation.SeedCount < 0 {
		return fmt.Errorf("seed_count must be non-negative, got %d", c.Simulation.SeedCount)
	}
	if c.Simulation.Speed <= 0 {
		return fmt.Errorf("speed must be positive, got %f", c.Simulation.Speed)
	}
	if c.Simulation.StepInterval <= 0 {
		return fmt.Errorf("step_interval must be positive, got %v", c.Simulation.StepInterval)
	}
	if c.Simulation.MaxDays < 0 {
		return fmt.Errorf("max_days must be non-negative, got %d", c.Simulation.MaxDays)
	}

	if c.Server.StartRate <= 0 || c.Server.StartBurst < 1 {
		return fmt.Errorf("start_rate must be positive and start_burst at least 1, got %f/%d", c.Server.StartRate, c.Server.StartBurst)
	}

	switch c.History.Driver {
	case store.DriverSQLite, store.DriverMemory:
	default:
		return fmt.Errorf("invalid history driver: %s (valid: sqlite, memory)", c.History.Driver)
	}

	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}

	return nil
}

// Params returns the epidemic base rates.
func (c *CuraConfig) Params() epidemic.Params {
	return epidemic.Params{
		InfectionRate:       c.Simulation.InfectionRate,
		RecoveryRate:        c.Simulation.RecoveryRate,
		MortalityRate:       c.Simulation.MortalityRate,
		SocioeconomicImpact: c.Simulation.SocioeconomicImpact,
	}
}

// DataDir returns Data.Dir, or ~/.cura when unset.
func (c *CuraConfig) DataDir() (string, error) {
	if c.Data.Dir != "" {
		return c.Data.Dir, nil
	}
	return store.CuraDir()
}

// HistoryPath returns History.Path, or <data dir>/history.db when unset.
func (c *CuraConfig) HistoryPath() (string, error) {
	if c.History.Path != "" {
		return c.History.Path, nil
	}
	dir, err := c.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, store.HistoryFile), nil
}

// TickInterval is the wall-clock time between simulated days.
func (c *CuraConfig) TickInterval() time.Duration {
	return time.Duration(float64(c.Simulation.StepInterval) / c.Simulation.Speed)
}

// applyEnvOverrides overlays CURA_* environment variables. Unset variables
// leave the current value in place.
func applyEnvOverrides(config *CuraConfig) error {
	if err := env.Parse(config); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
