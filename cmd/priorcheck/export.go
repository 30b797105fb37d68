package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/priorcheck/priorcheck/internal/export"
	"github.com/priorcheck/priorcheck/internal/store"
)

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <run-id>",
		Short: "Export a run's rank statistics",
		Long: `Export a persisted run for external analysis.

Formats:
  arrow  Arrow IPC stream, one Int64 column per quantity element plus a
         trial-index column (skipped trials are omitted)
  jsonl  JSON Lines, a header record followed by one record per trial;
         round-trips through 'priorcheck import'-style tooling

Examples:
  priorcheck export <run-id> --out ranks.arrow
  priorcheck export <run-id> --format jsonl --out run.jsonl`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			format, _ := cmd.Flags().GetString("format")
			outPath, _ := cmd.Flags().GetString("out")

			runStore, err := store.NewSQLiteRunStore(cfg.Storage.Path)
			if err != nil {
				return fmt.Errorf("opening run store: %w", err)
			}
			defer runStore.Close()

			calRun, err := runStore.LoadRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			var out io.Writer = cmd.OutOrStdout()
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("creating %s: %w", outPath, err)
				}
				defer f.Close()
				out = f
			}

			switch format {
			case "arrow":
				return export.WriteArrowIPC(out, calRun)
			case "jsonl":
				return store.ExportJSONL(out, calRun)
			default:
				return fmt.Errorf("format must be 'arrow' or 'jsonl', not %q", format)
			}
		},
	}
	cmd.Flags().String("format", "arrow", "Export format: 'arrow' or 'jsonl'")
	cmd.Flags().String("out", "", "Output file (default stdout)")
	return cmd
}
