// Package sbc defines the data model for simulation-based calibration:
// tracked quantities, prior/posterior samples, per-trial rank results,
// and the aggregate calibration run with its resume invariants.
package sbc

import "fmt"

// Quantity is a named random variable tracked for calibration. Size is the
// flattened element count; scalars have Size 1. Vector quantities produce one
// rank statistic per element, addressed by ElementLabel.
type Quantity struct {
	Name string `json:"name" yaml:"name"`
	Size int    `json:"size" yaml:"size"`
}

// ElementLabel returns the report/export label for element i of the quantity.
// Scalar quantities are addressed by their bare name.
func (q Quantity) ElementLabel(i int) string {
	if q.Size <= 1 {
		return q.Name
	}
	return fmt.Sprintf("%s[%d]", q.Name, i)
}

// PriorDraw is one joint sample from the model's prior: a value for every
// tracked quantity plus simulated data for every observed variable.
// A PriorDraw is immutable once produced; Seed records the seed that
// generated it so the draw is independently reproducible.
type PriorDraw struct {
	Seed     uint64               `json:"seed"`
	Params   map[string][]float64 `json:"params"`
	Observed map[string][]float64 `json:"observed"`
}

// PosteriorSample holds the posterior draws produced by conditioning
// inference on one PriorDraw's simulated data. Draws[q][i] is the i-th
// post-warmup draw for quantity q, with one float64 per element.
type PosteriorSample struct {
	Draws map[string][][]float64 `json:"draws"`
}

// TrialResult is the outcome of one completed trial: per-quantity rank
// statistics (one int per element, each in [0, NumDraws]) plus the warnings
// emitted by that trial's inference run.
type TrialResult struct {
	Index    int              `json:"trial_index"`
	Ranks    map[string][]int `json:"ranks"`
	Warnings []Warning        `json:"warnings,omitempty"`
}

// RunConfig is the fixed configuration of a calibration run. It is set at
// run creation and must match exactly when a persisted run is resumed.
type RunConfig struct {
	// NumTrials is the number of independent trials requested.
	NumTrials int `json:"num_trials"`

	// NumDraws is L, the number of post-warmup posterior draws per trial.
	// Ranks always lie in [0, NumDraws].
	NumDraws int `json:"num_draws"`

	// WarmupDraws is the number of warmup/tuning iterations passed to the
	// inference backend before the NumDraws kept draws.
	WarmupDraws int `json:"warmup_draws"`

	// Seed is the root seed. Per-trial seeds are derived from it up front,
	// so trial i sees the same seed whether or not the run was paused.
	Seed uint64 `json:"seed"`

	// Quantities is the fixed set of tracked quantities. Identical across
	// all trial results in a run.
	Quantities []Quantity `json:"quantities"`

	// MaxAttempts bounds how many prior draws a single trial may consume
	// before it is recorded as skipped. Minimum 1.
	MaxAttempts int `json:"max_attempts"`

	// SkipRateThreshold is the skipped-trial fraction above which reports
	// flag systemic inference trouble.
	SkipRateThreshold float64 `json:"skip_rate_threshold"`
}

// Validate checks that the configuration describes a runnable calibration.
func (c RunConfig) Validate() error {
	if c.NumTrials <= 0 {
		return fmt.Errorf("num_trials must be positive, got %d", c.NumTrials)
	}
	if c.NumDraws <= 0 {
		return fmt.Errorf("num_draws must be positive, got %d", c.NumDraws)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if len(c.Quantities) == 0 {
		return fmt.Errorf("at least one tracked quantity is required")
	}
	seen := make(map[string]bool, len(c.Quantities))
	for _, q := range c.Quantities {
		if q.Name == "" {
			return fmt.Errorf("quantity name must not be empty")
		}
		if q.Size < 1 {
			return fmt.Errorf("quantity %s: size must be at least 1, got %d", q.Name, q.Size)
		}
		if seen[q.Name] {
			return fmt.Errorf("duplicate quantity name %q", q.Name)
		}
		seen[q.Name] = true
	}
	if c.SkipRateThreshold < 0 || c.SkipRateThreshold > 1 {
		return fmt.Errorf("skip_rate_threshold must be in [0,1], got %g", c.SkipRateThreshold)
	}
	return nil
}

// Equal reports whether two configurations are interchangeable for resume
// purposes: same trial count, draw counts, seed, and quantity set.
func (c RunConfig) Equal(other RunConfig) bool {
	if c.NumTrials != other.NumTrials ||
		c.NumDraws != other.NumDraws ||
		c.WarmupDraws != other.WarmupDraws ||
		c.Seed != other.Seed ||
		len(c.Quantities) != len(other.Quantities) {
		return false
	}
	for i, q := range c.Quantities {
		if other.Quantities[i] != q {
			return false
		}
	}
	return true
}
