package sbc

import (
	"fmt"

	"github.com/google/uuid"
)

// RunState describes where a calibration run is in its lifecycle.
type RunState string

const (
	// StateNotStarted means no trial has completed or been skipped.
	StateNotStarted RunState = "not_started"
	// StateRunning means an aggregator is actively driving trials.
	StateRunning RunState = "running"
	// StatePaused means some, but not all, requested trials have been
	// consumed and the run can be resumed from the next trial index.
	StatePaused RunState = "paused"
	// StateCompleted means every requested trial index has been consumed
	// (completed or skipped).
	StateCompleted RunState = "completed"
)

// CalibrationRun is the aggregate state of one calibration session: fixed
// configuration, completed trial results in trial-index order, and the
// indexes of trials skipped after exhausting the attempt budget.
//
// Results are append-only and index-addressed: trial indexes are consumed
// strictly in order, each exactly once, so resumption is a property of the
// persisted state rather than process memory.
type CalibrationRun struct {
	ID      string        `json:"id"`
	Config  RunConfig     `json:"config"`
	Results []TrialResult `json:"results"`
	Skipped []int         `json:"skipped,omitempty"`
}

// NewCalibrationRun creates an empty run with a fresh ID.
func NewCalibrationRun(cfg RunConfig) (*CalibrationRun, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run config: %w", err)
	}
	return &CalibrationRun{ID: uuid.NewString(), Config: cfg}, nil
}

// Cursor returns the next un-consumed trial index: the number of trials
// completed plus the number skipped.
func (r *CalibrationRun) Cursor() int {
	return len(r.Results) + len(r.Skipped)
}

// State derives the run's lifecycle state from its contents. A live
// aggregator reports StateRunning itself; persisted state is never running.
func (r *CalibrationRun) State() RunState {
	switch cursor := r.Cursor(); {
	case cursor == 0:
		return StateNotStarted
	case cursor < r.Config.NumTrials:
		return StatePaused
	default:
		return StateCompleted
	}
}

// Append records a completed trial. The result's index must be the current
// cursor (exactly-once, in-order consumption) and its ranks must cover the
// configured quantity set with every value in [0, NumDraws].
func (r *CalibrationRun) Append(res TrialResult) error {
	if res.Index != r.Cursor() {
		return fmt.Errorf("trial index %d out of order, cursor is %d", res.Index, r.Cursor())
	}
	if res.Index >= r.Config.NumTrials {
		return fmt.Errorf("trial index %d exceeds requested trials %d", res.Index, r.Config.NumTrials)
	}
	if err := r.validateRanks(res.Ranks); err != nil {
		return fmt.Errorf("trial %d: %w", res.Index, err)
	}
	r.Results = append(r.Results, res)
	return nil
}

// Skip records a trial index as skipped after its attempt budget was
// exhausted. Like Append it must consume the current cursor.
func (r *CalibrationRun) Skip(index int) error {
	if index != r.Cursor() {
		return fmt.Errorf("skip index %d out of order, cursor is %d", index, r.Cursor())
	}
	if index >= r.Config.NumTrials {
		return fmt.Errorf("skip index %d exceeds requested trials %d", index, r.Config.NumTrials)
	}
	r.Skipped = append(r.Skipped, index)
	return nil
}

func (r *CalibrationRun) validateRanks(ranks map[string][]int) error {
	if len(ranks) != len(r.Config.Quantities) {
		return fmt.Errorf("got ranks for %d quantities, want %d", len(ranks), len(r.Config.Quantities))
	}
	for _, q := range r.Config.Quantities {
		rs, ok := ranks[q.Name]
		if !ok {
			return fmt.Errorf("missing ranks for quantity %q", q.Name)
		}
		if len(rs) != q.Size {
			return fmt.Errorf("quantity %q: got %d ranks, want %d", q.Name, len(rs), q.Size)
		}
		for i, v := range rs {
			if v < 0 || v > r.Config.NumDraws {
				return fmt.Errorf("quantity %q element %d: rank %d outside [0,%d]", q.Name, i, v, r.Config.NumDraws)
			}
		}
	}
	return nil
}

// WarningTotals returns the order-independent sum of warning counts across
// all completed trials.
func (r *CalibrationRun) WarningTotals() WarningTally {
	tally := make(WarningTally)
	for _, res := range r.Results {
		tally.Add(res.Warnings...)
	}
	return tally
}

// SkipRate returns the fraction of consumed trial indexes that were skipped.
func (r *CalibrationRun) SkipRate() float64 {
	cursor := r.Cursor()
	if cursor == 0 {
		return 0
	}
	return float64(len(r.Skipped)) / float64(cursor)
}

// RankSeries flattens the completed results into one rank sequence per
// quantity element, labeled per Quantity.ElementLabel, in trial order.
// This is the shape the envelope computations and exporters consume.
func (r *CalibrationRun) RankSeries() map[string][]int {
	series := make(map[string][]int)
	for _, q := range r.Config.Quantities {
		for i := 0; i < q.Size; i++ {
			series[q.ElementLabel(i)] = make([]int, 0, len(r.Results))
		}
	}
	for _, res := range r.Results {
		for _, q := range r.Config.Quantities {
			rs := res.Ranks[q.Name]
			for i, v := range rs {
				label := q.ElementLabel(i)
				series[label] = append(series[label], v)
			}
		}
	}
	return series
}

// ElementLabels returns every quantity element label in configuration order.
func (r *CalibrationRun) ElementLabels() []string {
	var labels []string
	for _, q := range r.Config.Quantities {
		for i := 0; i < q.Size; i++ {
			labels = append(labels, q.ElementLabel(i))
		}
	}
	return labels
}
