package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/CdubVentures/spec-harvester-sub003/internal/review"
	"github.com/CdubVentures/spec-harvester-sub003/internal/storage"
)

var (
	reviewCategory string
	reviewExport   bool
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Work the shared accept/confirm lanes",
}

var reviewQueueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List pending review lanes, optionally exporting a snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		category, err := resolveReviewCategory()
		if err != nil {
			return err
		}
		store, err := openReview()
		if err != nil {
			return err
		}
		defer store.Close()
		pending, err := store.Pending(category)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, st := range pending {
			fmt.Fprintf(out, "%-10s %-24s %-32s confirm=%-9s accept=%q\n",
				st.Key.TargetKind, st.Key.FieldKey, st.Key.LaneValue, st.AIConfirm, st.UserAccept)
		}
		if !reviewExport {
			return nil
		}
		blob, err := storage.NewLocalStore(cfg.Storage.OutputRoot)
		if err != nil {
			return err
		}
		if err := storage.WriteJSON(blob, storage.ReviewQueueKey(category), pending); err != nil {
			return err
		}
		fmt.Fprintf(out, "exported %d lanes to %s\n", len(pending), storage.ReviewQueueKey(category))
		return nil
	},
}

var reviewConfirmCmd = &cobra.Command{
	Use:   "confirm <field> <value>",
	Short: "Mark a lane value as machine-confirmed",
	Args:  cobra.ExactArgs(2),
	RunE:  func(cmd *cobra.Command, args []string) error { return applyLane(cmd, "confirm", args) },
}

var reviewAcceptCmd = &cobra.Command{
	Use:   "accept <field> <value>",
	Short: "Record a human acceptance for a lane value",
	Args:  cobra.ExactArgs(2),
	RunE:  func(cmd *cobra.Command, args []string) error { return applyLane(cmd, "accept", args) },
}

func applyLane(cmd *cobra.Command, action string, args []string) error {
	category, err := resolveReviewCategory()
	if err != nil {
		return err
	}
	store, err := openReview()
	if err != nil {
		return err
	}
	defer store.Close()
	st, err := store.ApplySharedLaneState(review.LaneAction{
		Key: review.LaneKey{
			Category:   category,
			TargetKind: "enum_value",
			FieldKey:   args[0],
			LaneValue:  review.NormalizeEnumValue(args[1]),
		},
		Action:        action,
		SelectedValue: args[1],
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s/%s: confirm=%s accept=%q\n",
		st.Key.FieldKey, st.Key.LaneValue, st.AIConfirm, st.UserAccept)
	return nil
}

func resolveReviewCategory() (string, error) {
	if reviewCategory != "" {
		return reviewCategory, nil
	}
	if cfg.Category != "" {
		return cfg.Category, nil
	}
	return "", fmt.Errorf("no category: set --category or config")
}

func openReview() (*review.Store, error) {
	return review.Open(filepath.Join(cfg.Storage.StateDir, "review.db"))
}

func init() {
	reviewCmd.PersistentFlags().StringVar(&reviewCategory, "category", "", "category (defaults to config)")
	reviewQueueCmd.Flags().BoolVar(&reviewExport, "export", false, "write the queue snapshot into the output root")
	reviewCmd.AddCommand(reviewQueueCmd)
	reviewCmd.AddCommand(reviewConfirmCmd)
	reviewCmd.AddCommand(reviewAcceptCmd)
}
