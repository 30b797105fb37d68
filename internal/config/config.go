// Package config provides unified configuration loading for priorcheck.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/priorcheck/priorcheck/internal/sbc"
)

// Config contains all priorcheck settings.
type Config struct {
	// Run configures the calibration loop.
	Run RunSettings `json:"run" yaml:"run"`

	// Model selects and parameterizes the inference backend.
	Model ModelSettings `json:"model" yaml:"model"`

	// Storage configures run persistence.
	Storage StorageSettings `json:"storage" yaml:"storage"`

	// Report configures envelope computation for reports.
	Report ReportSettings `json:"report" yaml:"report"`

	// Logging configures operational and trial-trace logging.
	Logging LoggingSettings `json:"logging" yaml:"logging"`
}

// RunSettings configures the trial loop.
type RunSettings struct {
	// Trials is the number of independent calibration trials.
	Trials int `json:"trials" yaml:"trials"`

	// Draws is the number of post-warmup posterior draws per trial (L).
	Draws int `json:"draws" yaml:"draws"`

	// Warmup is the number of warmup/tuning iterations per trial.
	Warmup int `json:"warmup" yaml:"warmup"`

	// Seed is the root seed; per-trial seeds derive from it.
	Seed uint64 `json:"seed" yaml:"seed"`

	// MaxAttempts bounds prior draws consumed per trial before skipping.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// SkipRateThreshold is the skipped-trial fraction above which reports
	// flag systemic inference trouble.
	SkipRateThreshold float64 `json:"skip_rate_threshold" yaml:"skip_rate_threshold"`
}

// ModelSettings selects the built-in inference backend.
type ModelSettings struct {
	// Backend is "selfcheck" or "conjugate-normal".
	Backend string `json:"backend" yaml:"backend"`

	// Quantities declares tracked quantities for the selfcheck backend.
	Quantities []QuantitySetting `json:"quantities,omitempty" yaml:"quantities,omitempty"`

	// Observed declares observed variables and shape hints for selfcheck.
	Observed []ObservedSetting `json:"observed,omitempty" yaml:"observed,omitempty"`

	// PriorMu, PriorSigma, NoiseSigma, NumObs parameterize conjugate-normal.
	PriorMu    float64 `json:"prior_mu" yaml:"prior_mu"`
	PriorSigma float64 `json:"prior_sigma" yaml:"prior_sigma"`
	NoiseSigma float64 `json:"noise_sigma" yaml:"noise_sigma"`
	NumObs     int     `json:"num_obs" yaml:"num_obs"`
}

// QuantitySetting declares one tracked quantity and its normal prior.
type QuantitySetting struct {
	Name  string  `json:"name" yaml:"name"`
	Size  int     `json:"size" yaml:"size"`
	Mu    float64 `json:"mu" yaml:"mu"`
	Sigma float64 `json:"sigma" yaml:"sigma"`
}

// ObservedSetting declares one observed variable with its shape hint.
type ObservedSetting struct {
	Name string `json:"name" yaml:"name"`
	Size int    `json:"size" yaml:"size"`
}

// StorageSettings configures run persistence.
type StorageSettings struct {
	// Path is the SQLite database file for persisted runs.
	Path string `json:"path" yaml:"path"`
}

// ReportSettings configures envelope computation.
type ReportSettings struct {
	// Confidence is the envelope credible level, e.g. 0.94.
	Confidence float64 `json:"confidence" yaml:"confidence"`

	// Bins is the rank-histogram bin count; 0 selects a default.
	Bins int `json:"bins" yaml:"bins"`

	// Simultaneous selects a simultaneous (rather than pointwise) ECDF band.
	Simultaneous bool `json:"simultaneous" yaml:"simultaneous"`
}

// LoggingSettings configures logging behavior.
type LoggingSettings struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables trial tracing to <storage dir>/trials.jsonl.
	Level string `json:"level" yaml:"level"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Run: RunSettings{
			Trials:            1000,
			Draws:             100,
			Warmup:            200,
			Seed:              0,
			MaxAttempts:       3,
			SkipRateThreshold: 0.05,
		},
		Model: ModelSettings{
			Backend:    "conjugate-normal",
			PriorMu:    0,
			PriorSigma: 5,
			NoiseSigma: 1,
			NumObs:     20,
		},
		Storage: StorageSettings{
			Path: "priorcheck.db",
		},
		Report: ReportSettings{
			Confidence: 0.94,
		},
		Logging: LoggingSettings{
			Level: "info",
		},
	}
}

// Load loads configuration from path (if non-empty) over defaults, then
// applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		loaded, err := LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		cfg = loaded
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file over defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnvOverrides applies PRIORCHECK_* environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PRIORCHECK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PRIORCHECK_DB"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("PRIORCHECK_SEED"); v != "" {
		if seed, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Run.Seed = seed
		}
	}
	if v := os.Getenv("PRIORCHECK_TRIALS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Run.Trials = n
		}
	}
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.Run.Trials <= 0 {
		return fmt.Errorf("run.trials must be positive, got %d", c.Run.Trials)
	}
	if c.Run.Draws <= 0 {
		return fmt.Errorf("run.draws must be positive, got %d", c.Run.Draws)
	}
	if c.Run.MaxAttempts < 1 {
		return fmt.Errorf("run.max_attempts must be at least 1, got %d", c.Run.MaxAttempts)
	}
	switch strings.ToLower(c.Model.Backend) {
	case "selfcheck", "conjugate-normal":
	default:
		return fmt.Errorf("model.backend must be \"selfcheck\" or \"conjugate-normal\", got %q", c.Model.Backend)
	}
	if c.Report.Confidence <= 0 || c.Report.Confidence >= 1 {
		return fmt.Errorf("report.confidence must be in (0,1), got %g", c.Report.Confidence)
	}
	return nil
}

// RunConfig translates the settings into the engine's run configuration.
// Quantities are filled in by the aggregator from the backend.
func (c *Config) RunConfig() sbc.RunConfig {
	return sbc.RunConfig{
		NumTrials:         c.Run.Trials,
		NumDraws:          c.Run.Draws,
		WarmupDraws:       c.Run.Warmup,
		Seed:              c.Run.Seed,
		MaxAttempts:       c.Run.MaxAttempts,
		SkipRateThreshold: c.Run.SkipRateThreshold,
	}
}
