package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CdubVentures/spec-harvester-sub003/internal/learning"
)

var learningCategory string

var learningCmd = &cobra.Command{
	Use:   "learning",
	Short: "Inspect the shared learning stores",
}

var learningHintsCmd = &cobra.Command{
	Use:   "hints [field ...]",
	Short: "Dump anchors, URL memory and lexicon hints, optionally filtered to fields",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openLearning()
		if err != nil {
			return err
		}
		defer store.Close()
		hints, err := store.Hints(args)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(hints)
	},
}

var learningLowYieldCmd = &cobra.Command{
	Use:   "low-yield",
	Short: "List domains whose extraction yield falls below the cutoff",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openLearning()
		if err != nil {
			return err
		}
		defer store.Close()
		low, err := store.LowYieldDomains(cfg.Learning.MinSeen, cfg.Learning.MaxYield)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, d := range low {
			fmt.Fprintf(out, "%-32s %-24s seen=%-5d used=%-5d yield=%.3f\n",
				d.Domain, d.Field, d.SeenCount, d.UsedCount, d.Yield)
		}
		return nil
	},
}

func openLearning() (*learning.Store, error) {
	category := learningCategory
	if category == "" {
		category = cfg.Category
	}
	if category == "" {
		return nil, fmt.Errorf("no category: set --category or config")
	}
	return learning.Open(cfg.Storage.StateDir, category)
}

func init() {
	learningCmd.PersistentFlags().StringVar(&learningCategory, "category", "", "category (defaults to config)")
	learningCmd.AddCommand(learningHintsCmd)
	learningCmd.AddCommand(learningLowYieldCmd)
}
