package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/priorcheck/priorcheck/internal/store"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List persisted calibration runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			runStore, err := store.NewSQLiteRunStore(cfg.Storage.Path)
			if err != nil {
				return fmt.Errorf("opening run store: %w", err)
			}
			defer runStore.Close()

			summaries, err := runStore.ListRuns(cmd.Context())
			if err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(summaries)
			}
			if len(summaries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs found.")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-36s  %-10s  %-20s  %s\n", "RUN ID", "PROGRESS", "CREATED", "SKIPPED")
			for _, s := range summaries {
				fmt.Fprintf(cmd.OutOrStdout(), "%-36s  %4d/%-5d  %-20s  %d\n",
					s.ID, s.Completed, s.NumTrials,
					s.CreatedAt.Format("2006-01-02 15:04:05"), s.Skipped)
			}
			return nil
		},
	}
}
