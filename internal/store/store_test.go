package store

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/priorcheck/priorcheck/internal/sbc"
)

func testConfig() sbc.RunConfig {
	return sbc.RunConfig{
		NumTrials:   10,
		NumDraws:    5,
		Seed:        42,
		Quantities:  []sbc.Quantity{{Name: "mu", Size: 1}, {Name: "theta", Size: 2}},
		MaxAttempts: 3,
	}
}

func testResult(index int) sbc.TrialResult {
	return sbc.TrialResult{
		Index: index,
		Ranks: map[string][]int{
			"mu":    {index % 6},
			"theta": {0, 5},
		},
		Warnings: []sbc.Warning{{Kind: sbc.WarningDivergences, Count: index}},
	}
}

// runStoreTest exercises the RunStore contract against any implementation.
func runStoreTest(t *testing.T, s RunStore) {
	t.Helper()
	ctx := context.Background()

	run, err := sbc.NewCalibrationRun(testConfig())
	if err != nil {
		t.Fatalf("NewCalibrationRun() error = %v", err)
	}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	// Append three results and one skip.
	for i := 0; i < 3; i++ {
		if err := s.AppendResult(ctx, run.ID, testResult(i)); err != nil {
			t.Fatalf("AppendResult(%d) error = %v", i, err)
		}
	}
	if err := s.RecordSkip(ctx, run.ID, 3); err != nil {
		t.Fatalf("RecordSkip() error = %v", err)
	}

	// Replaying an append must not duplicate the trial.
	if err := s.AppendResult(ctx, run.ID, testResult(1)); err != nil {
		t.Fatalf("replayed AppendResult() error = %v", err)
	}
	if err := s.RecordSkip(ctx, run.ID, 3); err != nil {
		t.Fatalf("replayed RecordSkip() error = %v", err)
	}

	loaded, err := s.LoadRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("LoadRun() error = %v", err)
	}
	if !loaded.Config.Equal(run.Config) {
		t.Errorf("loaded config = %+v, want %+v", loaded.Config, run.Config)
	}
	if len(loaded.Results) != 3 {
		t.Fatalf("loaded %d results, want 3", len(loaded.Results))
	}
	for i, res := range loaded.Results {
		if res.Index != i {
			t.Errorf("result %d has index %d, want %d (trial-index order)", i, res.Index, i)
		}
		want := testResult(i)
		if !reflect.DeepEqual(res.Ranks, want.Ranks) {
			t.Errorf("result %d ranks = %v, want %v", i, res.Ranks, want.Ranks)
		}
		if !reflect.DeepEqual(res.Warnings, want.Warnings) {
			t.Errorf("result %d warnings = %v, want %v", i, res.Warnings, want.Warnings)
		}
	}
	if len(loaded.Skipped) != 1 || loaded.Skipped[0] != 3 {
		t.Errorf("loaded skips = %v, want [3]", loaded.Skipped)
	}
	if loaded.Cursor() != 4 {
		t.Errorf("cursor = %d, want 4", loaded.Cursor())
	}
	if loaded.State() != sbc.StatePaused {
		t.Errorf("state = %s, want %s", loaded.State(), sbc.StatePaused)
	}

	summaries, err := s.ListRuns(ctx)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("got %d summaries, want 1", len(summaries))
	}
	sum := summaries[0]
	if sum.ID != run.ID || sum.NumTrials != 10 || sum.Completed != 3 || sum.Skipped != 1 {
		t.Errorf("summary = %+v, want id=%s trials=10 completed=3 skipped=1", sum, run.ID)
	}

	if _, err := s.LoadRun(ctx, "no-such-run"); err == nil {
		t.Error("LoadRun() of unknown run succeeded, want error")
	}
}

func TestMemoryRunStore(t *testing.T) {
	s := NewMemoryRunStore()
	defer s.Close()
	runStoreTest(t, s)
}

func TestSQLiteRunStore(t *testing.T) {
	s, err := NewSQLiteRunStore(filepath.Join(t.TempDir(), "sbc.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRunStore() error = %v", err)
	}
	defer s.Close()
	runStoreTest(t, s)
}

func TestSQLiteRunStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "sbc.db")

	s, err := NewSQLiteRunStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteRunStore() error = %v", err)
	}
	run, err := sbc.NewCalibrationRun(testConfig())
	if err != nil {
		t.Fatalf("NewCalibrationRun() error = %v", err)
	}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if err := s.AppendResult(ctx, run.ID, testResult(0)); err != nil {
		t.Fatalf("AppendResult() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s2, err := NewSQLiteRunStore(dbPath)
	if err != nil {
		t.Fatalf("reopening store: %v", err)
	}
	defer s2.Close()
	loaded, err := s2.LoadRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("LoadRun() after reopen error = %v", err)
	}
	if len(loaded.Results) != 1 {
		t.Errorf("loaded %d results after reopen, want 1", len(loaded.Results))
	}
}

func TestSQLiteRunStore_CreateRunWithExistingResults(t *testing.T) {
	// CreateRun must persist results already present on the run, so an
	// in-memory run can be promoted to durable storage.
	ctx := context.Background()
	s, err := NewSQLiteRunStore(filepath.Join(t.TempDir(), "sbc.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRunStore() error = %v", err)
	}
	defer s.Close()

	run, err := sbc.NewCalibrationRun(testConfig())
	if err != nil {
		t.Fatalf("NewCalibrationRun() error = %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := run.Append(testResult(i)); err != nil {
			t.Fatalf("Append(%d) error = %v", i, err)
		}
	}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	loaded, err := s.LoadRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("LoadRun() error = %v", err)
	}
	if len(loaded.Results) != 2 {
		t.Errorf("loaded %d results, want 2", len(loaded.Results))
	}
}
