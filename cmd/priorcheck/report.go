package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/priorcheck/priorcheck/internal/config"
	"github.com/priorcheck/priorcheck/internal/envelope"
	"github.com/priorcheck/priorcheck/internal/sbc"
	"github.com/priorcheck/priorcheck/internal/store"
)

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report <run-id>",
		Short: "Summarize a run's rank statistics against the uniform envelope",
		Long: `Compare a run's rank statistics to the discrete-uniform null.

Two representations are available: a rank histogram with a binomial
credible band per bin ('hist'), and the difference between the empirical
rank CDF and the uniform CDF with a band around zero ('ecdf'). Bins or
points outside the band indicate miscalibration.

Examples:
  priorcheck report <run-id>
  priorcheck report <run-id> --kind ecdf --confidence 0.99
  priorcheck report <run-id> --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			kind, _ := cmd.Flags().GetString("kind")
			if kind != "hist" && kind != "ecdf" {
				return fmt.Errorf("kind must be 'hist' or 'ecdf', not %q", kind)
			}
			if conf, _ := cmd.Flags().GetFloat64("confidence"); conf != 0 {
				cfg.Report.Confidence = conf
			}
			if bins, _ := cmd.Flags().GetInt("bins"); bins != 0 {
				cfg.Report.Bins = bins
			}
			if sim, _ := cmd.Flags().GetBool("simultaneous"); sim {
				cfg.Report.Simultaneous = true
			}

			runStore, err := store.NewSQLiteRunStore(cfg.Storage.Path)
			if err != nil {
				return fmt.Errorf("opening run store: %w", err)
			}
			defer runStore.Close()

			calRun, err := runStore.LoadRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			report, err := buildReport(calRun, kind, cfg.Report, cfg.Run.SkipRateThreshold)
			if err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(report)
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().String("kind", "hist", "Comparison kind: 'hist' or 'ecdf'")
	cmd.Flags().Float64("confidence", 0, "Envelope credible level (overrides config)")
	cmd.Flags().Int("bins", 0, "Histogram bin count (overrides config)")
	cmd.Flags().Bool("simultaneous", false, "Use a simultaneous ECDF band")
	return cmd
}

type report struct {
	RunID        string                         `json:"run_id"`
	State        sbc.RunState                   `json:"state"`
	Completed    int                            `json:"completed"`
	Skipped      int                            `json:"skipped"`
	SkipRate     float64                        `json:"skip_rate"`
	SkipRateHigh bool                           `json:"skip_rate_high,omitempty"`
	Warnings     sbc.WarningTally               `json:"warnings,omitempty"`
	Kind         string                         `json:"kind"`
	Histograms   map[string]*envelope.Histogram `json:"histograms,omitempty"`
	ECDFs        map[string]*envelope.ECDF      `json:"ecdfs,omitempty"`
}

func buildReport(calRun *sbc.CalibrationRun, kind string, settings config.ReportSettings, skipThreshold float64) (*report, error) {
	r := &report{
		RunID:     calRun.ID,
		State:     calRun.State(),
		Completed: len(calRun.Results),
		Skipped:   len(calRun.Skipped),
		SkipRate:  calRun.SkipRate(),
		Warnings:  calRun.WarningTotals(),
		Kind:      kind,
	}
	if skipThreshold > 0 && r.SkipRate > skipThreshold {
		r.SkipRateHigh = true
	}
	if r.Completed == 0 {
		return r, nil
	}

	series := calRun.RankSeries()
	L := calRun.Config.NumDraws
	switch kind {
	case "hist":
		r.Histograms = make(map[string]*envelope.Histogram, len(series))
		for _, label := range calRun.ElementLabels() {
			h, err := envelope.RankHistogram(series[label], L, settings.Bins, settings.Confidence)
			if err != nil {
				return nil, fmt.Errorf("histogram for %s: %w", label, err)
			}
			r.Histograms[label] = h
		}
	case "ecdf":
		r.ECDFs = make(map[string]*envelope.ECDF, len(series))
		for _, label := range calRun.ElementLabels() {
			e, err := envelope.ECDFDifference(series[label], L, settings.Confidence, settings.Simultaneous)
			if err != nil {
				return nil, fmt.Errorf("ecdf for %s: %w", label, err)
			}
			r.ECDFs[label] = e
		}
	}
	return r, nil
}

func printReport(w io.Writer, r *report) {
	fmt.Fprintf(w, "Run %s (%s): %d completed, %d skipped (skip rate %.3f)\n",
		r.RunID, r.State, r.Completed, r.Skipped, r.SkipRate)
	if r.SkipRateHigh {
		fmt.Fprintln(w, "WARNING: skip rate above threshold; inference trouble looks systemic")
	}
	if len(r.Warnings) > 0 {
		fmt.Fprintln(w, "Warnings:")
		for _, kind := range r.Warnings.Kinds() {
			fmt.Fprintf(w, "  %-16s %d\n", kind, r.Warnings[kind])
		}
	}
	if r.Completed == 0 {
		fmt.Fprintln(w, "No completed trials to compare.")
		return
	}

	switch r.Kind {
	case "hist":
		for _, label := range sortedKeys(r.Histograms) {
			h := r.Histograms[label]
			fmt.Fprintf(w, "\n%s (rank histogram, %d trials, %.0f%% band):\n",
				label, h.NumTrials, h.Confidence*100)
			outside := map[int]bool{}
			for _, i := range h.OutsideBand() {
				outside[i] = true
			}
			for i, b := range h.Bins {
				marker := ""
				if outside[i] {
					marker = "  <- outside band"
				}
				fmt.Fprintf(w, "  [%3d-%3d] %5d  (band %.0f-%.0f)%s\n",
					b.Lo, b.Hi, b.Count, b.Band.Lower, b.Band.Upper, marker)
			}
		}
	case "ecdf":
		for _, label := range sortedKeys(r.ECDFs) {
			e := r.ECDFs[label]
			escapes := e.OutsideBand()
			verdict := "inside band"
			if len(escapes) > 0 {
				verdict = fmt.Sprintf("outside band at ranks %v", escapes)
			}
			fmt.Fprintf(w, "\n%s (ECDF difference, %d trials, %.0f%% band): %s\n",
				label, e.NumTrials, e.Confidence*100, verdict)
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
