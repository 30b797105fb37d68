package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/priorcheck/priorcheck/internal/sbc"
)

// SQLiteRunStore implements RunStore on a SQLite database. Trial results are
// rows keyed by (run_id, trial_index) with a uniqueness constraint, so an
// append retried after a crash or replayed on resume lands exactly once.
type SQLiteRunStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteRunStore opens (creating if needed) the run database at dbPath.
func NewSQLiteRunStore(dbPath string) (*SQLiteRunStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteRunStore{db: db, dbPath: dbPath}, nil
}

// CreateRun implements RunStore.
func (s *SQLiteRunStore) CreateRun(ctx context.Context, run *sbc.CalibrationRun) error {
	cfg, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("marshaling run config: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, config, created_at) VALUES (?, ?, ?)`,
		run.ID, string(cfg), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("creating run %s: %w", run.ID, err)
	}
	for _, res := range run.Results {
		if err := s.AppendResult(ctx, run.ID, res); err != nil {
			return err
		}
	}
	for _, idx := range run.Skipped {
		if err := s.RecordSkip(ctx, run.ID, idx); err != nil {
			return err
		}
	}
	return nil
}

// LoadRun implements RunStore.
func (s *SQLiteRunStore) LoadRun(ctx context.Context, id string) (*sbc.CalibrationRun, error) {
	var cfgJSON string
	err := s.db.QueryRowContext(ctx, `SELECT config FROM runs WHERE id = ?`, id).Scan(&cfgJSON)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", id, err)
	}
	run := &sbc.CalibrationRun{ID: id}
	if err := json.Unmarshal([]byte(cfgJSON), &run.Config); err != nil {
		return nil, fmt.Errorf("unmarshaling config for run %s: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT trial_index, ranks, warnings FROM trial_results WHERE run_id = ? ORDER BY trial_index`, id)
	if err != nil {
		return nil, fmt.Errorf("loading results for run %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var res sbc.TrialResult
		var ranksJSON, warningsJSON string
		if err := rows.Scan(&res.Index, &ranksJSON, &warningsJSON); err != nil {
			return nil, fmt.Errorf("scanning trial result: %w", err)
		}
		if err := json.Unmarshal([]byte(ranksJSON), &res.Ranks); err != nil {
			return nil, fmt.Errorf("unmarshaling ranks for trial %d: %w", res.Index, err)
		}
		if err := json.Unmarshal([]byte(warningsJSON), &res.Warnings); err != nil {
			return nil, fmt.Errorf("unmarshaling warnings for trial %d: %w", res.Index, err)
		}
		run.Results = append(run.Results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating results for run %s: %w", id, err)
	}

	skipRows, err := s.db.QueryContext(ctx,
		`SELECT trial_index FROM trial_skips WHERE run_id = ? ORDER BY trial_index`, id)
	if err != nil {
		return nil, fmt.Errorf("loading skips for run %s: %w", id, err)
	}
	defer skipRows.Close()
	for skipRows.Next() {
		var idx int
		if err := skipRows.Scan(&idx); err != nil {
			return nil, fmt.Errorf("scanning skip: %w", err)
		}
		run.Skipped = append(run.Skipped, idx)
	}
	if err := skipRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating skips for run %s: %w", id, err)
	}
	return run, nil
}

// AppendResult implements RunStore. INSERT OR IGNORE against the
// (run_id, trial_index) primary key gives exactly-once semantics.
func (s *SQLiteRunStore) AppendResult(ctx context.Context, runID string, res sbc.TrialResult) error {
	ranks, err := json.Marshal(res.Ranks)
	if err != nil {
		return fmt.Errorf("marshaling ranks for trial %d: %w", res.Index, err)
	}
	warnings := []byte("[]")
	if len(res.Warnings) > 0 {
		warnings, err = json.Marshal(res.Warnings)
		if err != nil {
			return fmt.Errorf("marshaling warnings for trial %d: %w", res.Index, err)
		}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO trial_results (run_id, trial_index, ranks, warnings) VALUES (?, ?, ?, ?)`,
		runID, res.Index, string(ranks), string(warnings))
	if err != nil {
		return fmt.Errorf("appending trial %d to run %s: %w", res.Index, runID, err)
	}
	return nil
}

// RecordSkip implements RunStore.
func (s *SQLiteRunStore) RecordSkip(ctx context.Context, runID string, trialIndex int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO trial_skips (run_id, trial_index) VALUES (?, ?)`,
		runID, trialIndex)
	if err != nil {
		return fmt.Errorf("recording skip of trial %d in run %s: %w", trialIndex, runID, err)
	}
	return nil
}

// ListRuns implements RunStore.
func (s *SQLiteRunStore) ListRuns(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.config, r.created_at,
		       (SELECT COUNT(*) FROM trial_results t WHERE t.run_id = r.id),
		       (SELECT COUNT(*) FROM trial_skips k WHERE k.run_id = r.id)
		FROM runs r ORDER BY r.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var summaries []RunSummary
	for rows.Next() {
		var s RunSummary
		var cfgJSON, createdAt string
		if err := rows.Scan(&s.ID, &cfgJSON, &createdAt, &s.Completed, &s.Skipped); err != nil {
			return nil, fmt.Errorf("scanning run summary: %w", err)
		}
		var cfg sbc.RunConfig
		if err := json.Unmarshal([]byte(cfgJSON), &cfg); err != nil {
			return nil, fmt.Errorf("unmarshaling config for run %s: %w", s.ID, err)
		}
		s.NumTrials = cfg.NumTrials
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			s.CreatedAt = t
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Close implements RunStore.
func (s *SQLiteRunStore) Close() error {
	return s.db.Close()
}
