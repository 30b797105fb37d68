package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/priorcheck/priorcheck/internal/config"
)

var version = "0.1.0-dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "priorcheck",
		Short: "Simulation-based calibration for Bayesian inference",
		Long: `priorcheck validates that an inference procedure's posteriors are
well-calibrated against a model's prior, via simulation-based calibration
(Talts et al. 2018).

It repeatedly draws parameters and data from the prior, runs inference on
the simulated data, and ranks the prior draw among the posterior draws;
under correct calibration the ranks are discrete-uniform. Runs are
persisted as they go and can be paused and resumed.`,
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "Path to YAML configuration file")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newResumeCmd(),
		newListCmd(),
		newReportCmd(),
		newExportCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{"version": version})
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "priorcheck version %s\n", version)
			}
		},
	}
}

// loadConfig loads configuration honoring the global --config flag.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}
