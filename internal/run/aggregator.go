// Package run drives simulation-based calibration: it orchestrates the
// trial loop (prior draw, posterior run, rank computation), aggregates
// results and inference warnings into a CalibrationRun, and supports
// pausing between trials and resuming from persisted state without
// re-running or double-counting completed trials.
package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/priorcheck/priorcheck/internal/backend"
	"github.com/priorcheck/priorcheck/internal/rank"
	"github.com/priorcheck/priorcheck/internal/sbc"
	"github.com/priorcheck/priorcheck/internal/store"
)

// Progress is a snapshot of a run in flight: how many trials have completed
// or been skipped, and the running warning totals across completed trials.
type Progress struct {
	Completed int
	Skipped   int
	Total     int
	Warnings  sbc.WarningTally
}

// SkipRate returns the skipped fraction of consumed trial indexes.
func (p Progress) SkipRate() float64 {
	consumed := p.Completed + p.Skipped
	if consumed == 0 {
		return 0
	}
	return float64(p.Skipped) / float64(consumed)
}

// Observer receives progress after every consumed trial index. Callbacks
// run on the aggregator's goroutine between trials; a slow observer slows
// the run.
type Observer interface {
	TrialCompleted(p Progress)
	TrialSkipped(p Progress)
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithObserver attaches a progress observer.
func WithObserver(obs Observer) Option {
	return func(a *Aggregator) { a.observer = obs }
}

// WithLogger attaches a logger; defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(a *Aggregator) { a.log = log }
}

// Aggregator runs calibration trials against an inference backend and
// appends results to a CalibrationRun, persisting each trial as it lands.
//
// Lifecycle: not_started -> running -> paused or completed. A paused
// aggregator (context canceled between trials) can be resumed by calling
// Run again, or by constructing a new aggregator over the same store with
// Resume.
type Aggregator struct {
	mu       sync.Mutex
	cfg      sbc.RunConfig
	backend  backend.InferenceBackend
	store    store.RunStore
	observer Observer
	log      *slog.Logger

	run     *sbc.CalibrationRun
	seeds   []uint64
	tally   sbc.WarningTally
	running bool
}

// New creates an aggregator for a fresh run and persists the run's identity
// and configuration. The backend's tracked quantities become the run's
// quantity set; cfg.Quantities, if set, must match them.
func New(cfg sbc.RunConfig, b backend.InferenceBackend, s store.RunStore, opts ...Option) (*Aggregator, error) {
	quantities := b.Quantities()
	if len(cfg.Quantities) == 0 {
		cfg.Quantities = quantities
	} else if !quantitiesEqual(cfg.Quantities, quantities) {
		return nil, &sbc.ModelSpecificationError{Reason: "configured quantities do not match backend quantities"}
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}

	run, err := sbc.NewCalibrationRun(cfg)
	if err != nil {
		return nil, err
	}
	if err := s.CreateRun(context.Background(), run); err != nil {
		return nil, fmt.Errorf("persisting new run: %w", err)
	}
	return newAggregator(run, b, s, opts...), nil
}

// Resume loads a persisted run and prepares to continue it from the next
// un-consumed trial index. The persisted configuration must match cfg
// exactly; any mismatch is a ResumeInconsistencyError. The backend's
// quantities must also match the persisted quantity set.
func Resume(ctx context.Context, runID string, cfg sbc.RunConfig, b backend.InferenceBackend, s store.RunStore, opts ...Option) (*Aggregator, error) {
	run, err := s.LoadRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("loading run for resume: %w", err)
	}
	if len(cfg.Quantities) == 0 {
		cfg.Quantities = b.Quantities()
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = run.Config.MaxAttempts
	}
	if cfg.SkipRateThreshold == 0 {
		cfg.SkipRateThreshold = run.Config.SkipRateThreshold
	}
	if !run.Config.Equal(cfg) {
		return nil, &sbc.ResumeInconsistencyError{
			RunID:  runID,
			Detail: fmt.Sprintf("persisted config %+v does not match requested config %+v", run.Config, cfg),
		}
	}
	if !quantitiesEqual(run.Config.Quantities, b.Quantities()) {
		return nil, &sbc.ResumeInconsistencyError{
			RunID:  runID,
			Detail: "backend quantities do not match persisted quantity set",
		}
	}
	// Retry policy and reporting thresholds may change across sessions;
	// they are not part of the resume-consistency contract.
	run.Config.MaxAttempts = cfg.MaxAttempts
	run.Config.SkipRateThreshold = cfg.SkipRateThreshold
	return newAggregator(run, b, s, opts...), nil
}

func newAggregator(run *sbc.CalibrationRun, b backend.InferenceBackend, s store.RunStore, opts ...Option) *Aggregator {
	a := &Aggregator{
		cfg:     run.Config,
		backend: b,
		store:   s,
		run:     run,
		seeds:   trialSeeds(run.Config.Seed, run.Config.NumTrials),
		tally:   run.WarningTotals(),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// DefaultMaxAttempts bounds how many prior draws one trial may consume.
const DefaultMaxAttempts = 3

// trialSeeds derives the full per-trial seed stream from the root seed up
// front, the way the trial loop consumes it. Trial i always sees seeds[i],
// so a paused-and-resumed run reproduces the uninterrupted run exactly.
func trialSeeds(root uint64, n int) []uint64 {
	rng := rand.New(rand.NewPCG(root, root^0x6a09e667f3bcc909))
	seeds := make([]uint64, n)
	for i := range seeds {
		seeds[i] = rng.Uint64()
	}
	return seeds
}

// attemptSeed derives the seed for one attempt at a trial. Attempt 0 uses
// the trial seed itself; retries mix in the attempt number so a fresh prior
// draw is produced without disturbing any other trial's randomness.
func attemptSeed(trialSeed uint64, attempt int) uint64 {
	if attempt == 0 {
		return trialSeed
	}
	return rand.New(rand.NewPCG(trialSeed, uint64(attempt))).Uint64()
}

// Run drives trials from the current cursor until the run completes or ctx
// is canceled. Cancellation is observed between trials (never mid-inference)
// and leaves the run paused with no partial trial state; Run returns nil in
// that case. Fatal errors (model specification, storage) abort the run.
func (a *Aggregator) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("run %s is already running", a.run.ID)
	}
	a.running = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	for {
		a.mu.Lock()
		cursor := a.run.Cursor()
		a.mu.Unlock()
		if cursor >= a.cfg.NumTrials {
			return nil
		}
		if ctx.Err() != nil {
			a.log.Info("run paused", "run", a.run.ID, "completed", cursor)
			return nil
		}
		if err := a.runTrial(ctx, cursor); err != nil {
			return err
		}
	}
}

// runTrial consumes one trial index: up to MaxAttempts prior-draw/inference
// attempts, then either an appended result or a recorded skip.
func (a *Aggregator) runTrial(ctx context.Context, index int) error {
	for attempt := 0; attempt < a.cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			// Abandon the in-flight trial cleanly; nothing persisted yet.
			return nil
		}
		seed := attemptSeed(a.seeds[index], attempt)

		draw, err := a.backend.SamplePrior(ctx, seed)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("trial %d: sampling prior: %w", index, err)
		}

		post, warnings, err := a.backend.SamplePosterior(ctx, draw.Observed, backend.SamplerConfig{
			Draws:  a.cfg.NumDraws,
			Warmup: a.cfg.WarmupDraws,
			Seed:   seed,
		})
		if err == nil {
			err = validateDrawCount(post, a.cfg.Quantities, a.cfg.NumDraws)
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			var inf *sbc.InferenceFailure
			if errors.As(err, &inf) {
				a.log.Warn("inference failed, discarding prior draw",
					"run", a.run.ID, "trial", index, "attempt", attempt+1, "reason", inf.Reason)
				continue
			}
			return fmt.Errorf("trial %d: %w", index, err)
		}

		ranks, err := rank.Trial(draw, post, a.cfg.Quantities)
		if err != nil {
			return fmt.Errorf("trial %d: computing ranks: %w", index, err)
		}
		return a.record(ctx, sbc.TrialResult{Index: index, Ranks: ranks, Warnings: warnings})
	}
	return a.recordSkip(ctx, index)
}

// validateDrawCount enforces the contract that a usable posterior sample has
// exactly the requested number of draws for every tracked quantity; anything
// else is unusable by policy.
func validateDrawCount(post *sbc.PosteriorSample, quantities []sbc.Quantity, want int) error {
	for _, q := range quantities {
		draws, ok := post.Draws[q.Name]
		if !ok {
			return &sbc.InferenceFailure{Reason: fmt.Sprintf("posterior sample missing quantity %q", q.Name)}
		}
		if len(draws) != want {
			return &sbc.InferenceFailure{Reason: fmt.Sprintf("quantity %q: got %d draws, want %d", q.Name, len(draws), want)}
		}
	}
	return nil
}

func (a *Aggregator) record(ctx context.Context, res sbc.TrialResult) error {
	a.mu.Lock()
	if err := a.run.Append(res); err != nil {
		a.mu.Unlock()
		return fmt.Errorf("appending trial %d: %w", res.Index, err)
	}
	a.tally.Add(res.Warnings...)
	progress := a.progressLocked()
	a.mu.Unlock()

	// Persist even when a pause was requested mid-trial: the in-flight
	// trial completes and lands, partial state never does.
	if err := a.store.AppendResult(context.WithoutCancel(ctx), a.run.ID, res); err != nil {
		return fmt.Errorf("persisting trial %d: %w", res.Index, err)
	}
	a.log.Debug("trial completed", "run", a.run.ID, "trial", res.Index,
		"completed", progress.Completed, "total", progress.Total, "warnings", progress.Warnings.Total())
	if a.observer != nil {
		a.observer.TrialCompleted(progress)
	}
	return nil
}

func (a *Aggregator) recordSkip(ctx context.Context, index int) error {
	a.mu.Lock()
	if err := a.run.Skip(index); err != nil {
		a.mu.Unlock()
		return fmt.Errorf("recording skip of trial %d: %w", index, err)
	}
	progress := a.progressLocked()
	a.mu.Unlock()

	if err := a.store.RecordSkip(context.WithoutCancel(ctx), a.run.ID, index); err != nil {
		return fmt.Errorf("persisting skip of trial %d: %w", index, err)
	}
	a.log.Warn("trial skipped after exhausting attempts",
		"run", a.run.ID, "trial", index, "attempts", a.cfg.MaxAttempts)
	if a.cfg.SkipRateThreshold > 0 && progress.SkipRate() > a.cfg.SkipRateThreshold {
		a.log.Warn("skip rate above threshold, inference trouble looks systemic",
			"run", a.run.ID, "skip_rate", progress.SkipRate(), "threshold", a.cfg.SkipRateThreshold)
	}
	if a.observer != nil {
		a.observer.TrialSkipped(progress)
	}
	return nil
}

func (a *Aggregator) progressLocked() Progress {
	return Progress{
		Completed: len(a.run.Results),
		Skipped:   len(a.run.Skipped),
		Total:     a.cfg.NumTrials,
		Warnings:  a.tally.Clone(),
	}
}

// Progress returns a snapshot of the run's progress.
func (a *Aggregator) Progress() Progress {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.progressLocked()
}

// State returns the run's lifecycle state, reporting StateRunning while the
// trial loop is active.
func (a *Aggregator) State() sbc.RunState {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return sbc.StateRunning
	}
	return a.run.State()
}

// RunID returns the identifier of the underlying calibration run.
func (a *Aggregator) RunID() string {
	return a.run.ID
}

// Snapshot returns a copy of the underlying calibration run for analysis.
func (a *Aggregator) Snapshot() *sbc.CalibrationRun {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := &sbc.CalibrationRun{ID: a.run.ID, Config: a.run.Config}
	cp.Results = append(cp.Results, a.run.Results...)
	cp.Skipped = append(cp.Skipped, a.run.Skipped...)
	return cp
}

func quantitiesEqual(a, b []sbc.Quantity) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
