package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Run.Trials != 1000 {
		t.Errorf("default trials = %d, want 1000", cfg.Run.Trials)
	}
	if cfg.Report.Confidence != 0.94 {
		t.Errorf("default confidence = %g, want 0.94", cfg.Report.Confidence)
	}
}

func TestLoadFromFile(t *testing.T) {
	yml := `
run:
  trials: 50
  draws: 25
  seed: 99
model:
  backend: selfcheck
  quantities:
    - name: mu
      size: 1
      sigma: 1
  observed:
    - name: y
      size: 8
report:
  confidence: 0.9
  simultaneous: true
logging:
  level: debug
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yml), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Run.Trials != 50 || cfg.Run.Draws != 25 || cfg.Run.Seed != 99 {
		t.Errorf("run settings = %+v", cfg.Run)
	}
	// Unset fields keep their defaults.
	if cfg.Run.MaxAttempts != 3 {
		t.Errorf("max_attempts = %d, want default 3", cfg.Run.MaxAttempts)
	}
	if cfg.Model.Backend != "selfcheck" {
		t.Errorf("backend = %q, want selfcheck", cfg.Model.Backend)
	}
	if len(cfg.Model.Quantities) != 1 || cfg.Model.Quantities[0].Name != "mu" {
		t.Errorf("quantities = %+v", cfg.Model.Quantities)
	}
	if !cfg.Report.Simultaneous || cfg.Report.Confidence != 0.9 {
		t.Errorf("report = %+v", cfg.Report)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PRIORCHECK_SEED", "777")
	t.Setenv("PRIORCHECK_TRIALS", "12")
	t.Setenv("PRIORCHECK_LOG_LEVEL", "trace")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Run.Seed != 777 {
		t.Errorf("seed = %d, want 777", cfg.Run.Seed)
	}
	if cfg.Run.Trials != 12 {
		t.Errorf("trials = %d, want 12", cfg.Run.Trials)
	}
	if cfg.Logging.Level != "trace" {
		t.Errorf("level = %q, want trace", cfg.Logging.Level)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero trials", func(c *Config) { c.Run.Trials = 0 }},
		{"negative draws", func(c *Config) { c.Run.Draws = -1 }},
		{"zero attempts", func(c *Config) { c.Run.MaxAttempts = 0 }},
		{"unknown backend", func(c *Config) { c.Model.Backend = "nuts" }},
		{"bad confidence", func(c *Config) { c.Report.Confidence = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}
