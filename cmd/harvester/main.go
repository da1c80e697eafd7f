package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/CdubVentures/spec-harvester-sub003/internal/config"
	"github.com/CdubVentures/spec-harvester-sub003/internal/logging"
)

var (
	// Global flags
	cfgPath string
	verbose bool

	// Loaded configuration, available to every subcommand after PreRun.
	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "harvester",
	Short: "Batch product-spec harvester",
	Long: `harvester runs product batches through the convergence loop:
plan sources, fetch with mode escalation, extract candidate values, gate
them against the category's field rules, and publish once the need set
closes or a stop condition fires.

State (frontier, learning) is durable across runs; published specs only
ever move forward.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		return logging.Init(logging.Options{
			Dir:        cfg.Logging.Dir,
			Level:      level,
			Console:    cfg.Logging.Console || verbose,
			Categories: cfg.Logging.Categories,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to YAML config (defaults apply when omitted)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging to stderr")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(frontierCmd)
	rootCmd.AddCommand(learningCmd)
	rootCmd.AddCommand(reviewCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
