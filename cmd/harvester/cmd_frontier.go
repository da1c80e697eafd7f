package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var frontierCmd = &cobra.Command{
	Use:   "frontier",
	Short: "Inspect durable URL and query memory",
}

var frontierInspectCmd = &cobra.Command{
	Use:   "inspect <url>",
	Short: "Print the stored frontier row for a URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		front, err := openFrontier()
		if err != nil {
			return err
		}
		defer front.Close()
		row, err := front.Row(args[0])
		if err != nil {
			return fmt.Errorf("no frontier row for %s: %w", args[0], err)
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(row)
	},
}

var frontierCheckCmd = &cobra.Command{
	Use:   "check <url>",
	Short: "Ask whether the scheduler would skip a URL right now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		front, err := openFrontier()
		if err != nil {
			return err
		}
		defer front.Close()
		verdict, err := front.ShouldSkipUrl(args[0])
		if err != nil {
			return err
		}
		if verdict.Skip {
			fmt.Fprintf(cmd.OutOrStdout(), "skip: %s\n", verdict.Reason)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "fetchable")
		}
		return nil
	},
}

func init() {
	frontierCmd.AddCommand(frontierInspectCmd)
	frontierCmd.AddCommand(frontierCheckCmd)
}
