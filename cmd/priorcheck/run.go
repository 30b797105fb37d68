package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/priorcheck/priorcheck/internal/backend"
	"github.com/priorcheck/priorcheck/internal/config"
	"github.com/priorcheck/priorcheck/internal/logging"
	"github.com/priorcheck/priorcheck/internal/run"
	"github.com/priorcheck/priorcheck/internal/store"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start a new calibration run",
		Long: `Start a new calibration run with the configured model and trial count.

Each trial draws parameters and data from the prior, runs inference on the
simulated data, and records rank statistics. Progress is persisted per
trial; interrupting with Ctrl-C pauses the run after the in-flight trial,
and 'priorcheck resume' continues it.

Examples:
  priorcheck run --config sbc.yaml
  PRIORCHECK_TRIALS=100 priorcheck run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := logging.NewLogger(cfg.Logging.Level, os.Stderr)

			b, err := buildBackend(cfg)
			if err != nil {
				return err
			}
			runStore, err := store.NewSQLiteRunStore(cfg.Storage.Path)
			if err != nil {
				return fmt.Errorf("opening run store: %w", err)
			}
			defer runStore.Close()

			trialLog := logging.NewTrialLogger(filepath.Dir(cfg.Storage.Path), cfg.Logging.Level)
			defer trialLog.Close()

			agg, err := run.New(cfg.RunConfig(), b, runStore,
				run.WithLogger(log),
				run.WithObserver(newProgressObserver(log, trialLog)))
			if err != nil {
				return err
			}
			log.Info("starting calibration run", "run", agg.RunID(),
				"trials", cfg.Run.Trials, "draws", cfg.Run.Draws, "backend", cfg.Model.Backend)

			return drive(cmd, agg, log)
		},
	}
}

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Resume a paused calibration run",
		Long: `Resume a paused run from the next un-run trial index.

Already-completed trials are never re-run or discarded, and the per-trial
seed stream is unchanged, so a resumed run produces the same results it
would have produced uninterrupted. The configured model and trial counts
must match the persisted run exactly.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := logging.NewLogger(cfg.Logging.Level, os.Stderr)

			b, err := buildBackend(cfg)
			if err != nil {
				return err
			}
			runStore, err := store.NewSQLiteRunStore(cfg.Storage.Path)
			if err != nil {
				return fmt.Errorf("opening run store: %w", err)
			}
			defer runStore.Close()

			trialLog := logging.NewTrialLogger(filepath.Dir(cfg.Storage.Path), cfg.Logging.Level)
			defer trialLog.Close()

			agg, err := run.Resume(cmd.Context(), args[0], cfg.RunConfig(), b, runStore,
				run.WithLogger(log),
				run.WithObserver(newProgressObserver(log, trialLog)))
			if err != nil {
				return err
			}
			p := agg.Progress()
			log.Info("resuming calibration run", "run", agg.RunID(),
				"completed", p.Completed, "skipped", p.Skipped, "total", p.Total)

			return drive(cmd, agg, log)
		},
	}
}

// drive runs the aggregator with an interrupt-aware context and reports the
// final state.
func drive(cmd *cobra.Command, agg *run.Aggregator, log *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	notifySignals(sigCh)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			log.Info("interrupt received, pausing after in-flight trial")
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := agg.Run(ctx); err != nil {
		return err
	}

	p := agg.Progress()
	log.Info("run stopped", "run", agg.RunID(), "state", string(agg.State()),
		"completed", p.Completed, "skipped", p.Skipped, "total", p.Total)
	if p.Skipped > 0 {
		log.Warn("some trials were skipped after repeated inference failures",
			"skipped", p.Skipped, "skip_rate", fmt.Sprintf("%.3f", p.SkipRate()))
	}
	for _, kind := range p.Warnings.Kinds() {
		log.Info("warning totals", "kind", string(kind), "count", p.Warnings[kind])
	}
	fmt.Fprintln(cmd.OutOrStdout(), agg.RunID())
	return nil
}

// buildBackend constructs the configured inference backend.
func buildBackend(cfg *config.Config) (backend.InferenceBackend, error) {
	switch strings.ToLower(cfg.Model.Backend) {
	case "selfcheck":
		quantities := make([]backend.QuantitySpec, len(cfg.Model.Quantities))
		for i, q := range cfg.Model.Quantities {
			spec := backend.QuantitySpec{Name: q.Name, Size: q.Size, Mu: q.Mu, Sigma: q.Sigma}
			if spec.Size == 0 {
				spec.Size = 1
			}
			if spec.Sigma == 0 {
				spec.Sigma = 1
			}
			quantities[i] = spec
		}
		observed := make([]backend.ObservedSpec, len(cfg.Model.Observed))
		for i, o := range cfg.Model.Observed {
			observed[i] = backend.ObservedSpec{Name: o.Name, Size: o.Size}
		}
		return backend.NewSelfCheck(quantities, observed)
	case "conjugate-normal":
		return backend.NewConjugateNormal(backend.ConjugateNormalSpec{
			PriorMu:    cfg.Model.PriorMu,
			PriorSigma: cfg.Model.PriorSigma,
			NoiseSigma: cfg.Model.NoiseSigma,
			NumObs:     cfg.Model.NumObs,
		})
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Model.Backend)
	}
}

// progressObserver logs trial progress and mirrors it to the trial trace.
type progressObserver struct {
	log      *slog.Logger
	trialLog *logging.TrialLogger
}

func newProgressObserver(log *slog.Logger, trialLog *logging.TrialLogger) *progressObserver {
	return &progressObserver{log: log, trialLog: trialLog}
}

func (o *progressObserver) TrialCompleted(p run.Progress) {
	o.log.Debug("trial completed", "completed", p.Completed, "skipped", p.Skipped,
		"total", p.Total, "warnings", p.Warnings.Total())
	if milestone(p.Completed+p.Skipped, p.Total) {
		o.log.Info("progress", "completed", p.Completed, "skipped", p.Skipped, "total", p.Total)
	}
	o.trialLog.Log(map[string]any{
		"completed": p.Completed,
		"skipped":   p.Skipped,
		"total":     p.Total,
		"warnings":  p.Warnings,
	})
}

func (o *progressObserver) TrialSkipped(p run.Progress) {
	o.log.Warn("trial skipped", "completed", p.Completed, "skipped", p.Skipped, "total", p.Total)
	o.trialLog.Log(map[string]any{
		"completed": p.Completed,
		"skipped":   p.Skipped,
		"total":     p.Total,
		"event":     "skip",
	})
}

// milestone reports whether consumed crosses a 10% boundary of total.
func milestone(consumed, total int) bool {
	if total < 10 {
		return true
	}
	step := total / 10
	return consumed%step == 0
}
