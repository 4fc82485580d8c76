package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsAndOverlay(t *testing.T) {
	path := writeTemp(t, `
partitioning:
  num_parts: 4
  method: metis
simulation:
  start_time: 3600
routing:
  - bike
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Partitioning.NumParts != 4 || cfg.Partitioning.Method != "metis" {
		t.Fatalf("partitioning not overlaid: %+v", cfg.Partitioning)
	}
	if cfg.Simulation.StartTime != 3600 {
		t.Fatalf("start_time not overlaid: %d", cfg.Simulation.StartTime)
	}
	if cfg.Simulation.EndTime != 86400 {
		t.Fatalf("end_time default not preserved: %d", cfg.Simulation.EndTime)
	}
	if cfg.Simulation.SampleSize != 1.0 {
		t.Fatalf("sample_size default not preserved: %f", cfg.Simulation.SampleSize)
	}
	if len(cfg.Routing) != 1 || cfg.Routing[0] != "bike" {
		t.Fatalf("routing not overlaid: %v", cfg.Routing)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"zero partitions", Config{Partitioning: Partitioning{NumParts: 0, Method: "none"}, Simulation: Simulation{EndTime: 1, SampleSize: 1}}},
		{"bad method", Config{Partitioning: Partitioning{NumParts: 1, Method: "bogus"}, Simulation: Simulation{EndTime: 1, SampleSize: 1}}},
		{"end before start", Config{Partitioning: Partitioning{NumParts: 1, Method: "none"}, Simulation: Simulation{StartTime: 10, EndTime: 5, SampleSize: 1}}},
		{"sample size out of range", Config{Partitioning: Partitioning{NumParts: 1, Method: "none"}, Simulation: Simulation{EndTime: 1, SampleSize: 1.5}}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if err := c.cfg.Validate(); err == nil {
				t.Fatalf("expected Validate to reject %+v", c.cfg)
			}
		})
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default() must validate cleanly: %v", err)
	}
}
