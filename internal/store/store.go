// Package store persists calibration runs. A RunStore is the durable,
// index-addressed trial log that makes pause/resume a property of persisted
// state: trial results are appended exactly once per trial index and read
// back in trial-index order.
package store

import (
	"context"
	"time"

	"github.com/priorcheck/priorcheck/internal/sbc"
)

// RunSummary is a lightweight listing entry for a persisted run.
type RunSummary struct {
	ID        string    `json:"id"`
	NumTrials int       `json:"num_trials"`
	Completed int       `json:"completed"`
	Skipped   int       `json:"skipped"`
	CreatedAt time.Time `json:"created_at"`
}

// RunStore defines the interface for persisting calibration runs.
//
// AppendResult and RecordSkip must be idempotent per (run, trial index):
// re-appending an already-persisted trial is a no-op, never a duplicate, so
// a retried or resumed append cannot double-count a trial.
type RunStore interface {
	// CreateRun persists a new run's identity and configuration.
	CreateRun(ctx context.Context, run *sbc.CalibrationRun) error

	// LoadRun reconstructs a run: configuration, completed results in
	// trial-index order, and skipped trial indexes.
	LoadRun(ctx context.Context, id string) (*sbc.CalibrationRun, error)

	// AppendResult records one completed trial, exactly once per index.
	AppendResult(ctx context.Context, runID string, res sbc.TrialResult) error

	// RecordSkip records a trial index abandoned after exhausting its
	// attempt budget, exactly once per index.
	RecordSkip(ctx context.Context, runID string, trialIndex int) error

	// ListRuns returns summaries of all persisted runs, newest first.
	ListRuns(ctx context.Context) ([]RunSummary, error)

	Close() error
}
