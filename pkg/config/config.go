// Package config loads the run's YAML configuration tree: a fixed set of
// typed sections rather than a generic string-keyed map, so every recognized
// key is checked at compile time.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration tree.
type Config struct {
	Partitioning      Partitioning      `yaml:"partitioning"`
	Simulation        Simulation        `yaml:"simulation"`
	ComputationalSetup ComputationalSetup `yaml:"computational_setup"`
	Output            Output            `yaml:"output"`
	Routing           []string          `yaml:"routing"`

	Network    string `yaml:"network"`
	Population string `yaml:"population"`
	Vehicles   string `yaml:"vehicles"`
}

// Partitioning controls how the global graph is split across workers.
type Partitioning struct {
	NumParts int    `yaml:"num_parts"`
	Method   string `yaml:"method"` // "metis" or "none"

	// Metis options, only meaningful when Method == "metis".
	UFactor      int     `yaml:"ufactor"`
	Seed         int64   `yaml:"seed"`
	Contiguous   bool    `yaml:"contiguous"`
	EdgeWeight   string  `yaml:"edge_weight"`
	VertexWeight []string `yaml:"vertex_weight"`
}

// Simulation controls the clock and link-model scalars.
type Simulation struct {
	StartTime      uint32   `yaml:"start_time"`
	EndTime        uint32   `yaml:"end_time"`
	SampleSize     float64  `yaml:"sample_size"`
	StuckThreshold uint32   `yaml:"stuck_threshold"`
	MainModes      []string `yaml:"main_modes"`
}

// ComputationalSetup controls determinism and cross-partition sync.
type ComputationalSetup struct {
	GlobalSync bool  `yaml:"global_sync"`
	RandomSeed int64 `yaml:"random_seed"`
}

// WriteEventsMode is output.write_events's enumerated value.
type WriteEventsMode string

const (
	WriteEventsNone   WriteEventsMode = "none"
	WriteEventsProto  WriteEventsMode = "proto"
	WriteEventsXMLGz  WriteEventsMode = "xml_gz"
)

// Output controls where, and in what form, a run's artifacts land.
type Output struct {
	OutputDir   string          `yaml:"output_dir"`
	WriteEvents WriteEventsMode `yaml:"write_events"`
	Logging     string          `yaml:"logging"`
	Profiling   bool            `yaml:"profiling"`
}

// Default returns the configuration used when a key is
// absent from the file: start_time 0, end_time 86400, one partition, no
// adaptive routing, sample_size 1.0.
func Default() Config {
	return Config{
		Partitioning: Partitioning{NumParts: 1, Method: "none"},
		Simulation: Simulation{
			StartTime:      0,
			EndTime:        86400,
			SampleSize:     1.0,
			StuckThreshold: 3600,
			MainModes:      []string{"car"},
		},
		Output: Output{WriteEvents: WriteEventsNone},
	}
}

// Load reads and validates a configuration file, starting from Default()
// and overlaying whatever keys path sets.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the combinations treated as fatal configuration
// errors, reported with the offending key.
func (c Config) Validate() error {
	if c.Partitioning.NumParts < 1 {
		return fmt.Errorf("partitioning.num_parts must be >= 1, got %d", c.Partitioning.NumParts)
	}
	switch c.Partitioning.Method {
	case "metis", "none":
	default:
		return fmt.Errorf("partitioning.method must be \"metis\" or \"none\", got %q", c.Partitioning.Method)
	}
	if c.Simulation.EndTime < c.Simulation.StartTime {
		return fmt.Errorf("simulation.end_time (%d) must be >= start_time (%d)", c.Simulation.EndTime, c.Simulation.StartTime)
	}
	if c.Simulation.SampleSize <= 0 || c.Simulation.SampleSize > 1 {
		return fmt.Errorf("simulation.sample_size must be in (0,1], got %f", c.Simulation.SampleSize)
	}
	switch c.Output.WriteEvents {
	case WriteEventsNone, WriteEventsProto, WriteEventsXMLGz, "":
	default:
		return fmt.Errorf("output.write_events must be none, proto, or xml_gz, got %q", c.Output.WriteEvents)
	}
	return nil
}
