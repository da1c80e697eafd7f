package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/CdubVentures/spec-harvester-sub003/internal/rules"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and install field-rule bundles",
}

var rulesInstallCmd = &cobra.Command{
	Use:   "install <bundle.json>",
	Short: "Validate a bundle and install it into the helper root",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read bundle: %w", err)
		}
		var b rules.Bundle
		if err := json.Unmarshal(data, &b); err != nil {
			return fmt.Errorf("parse bundle: %w", err)
		}
		// Compile before writing so a broken bundle never lands on disk.
		if _, err := rules.CompileBundle(&b); err != nil {
			return fmt.Errorf("bundle rejected: %w", err)
		}
		if err := rules.WriteBundle(cfg.Storage.HelperRoot, &b); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "installed %s bundle, %d fields\n", b.Category, len(b.FieldRules))
		return nil
	},
}

var rulesShowCmd = &cobra.Command{
	Use:   "show <category>",
	Short: "Print the compiled field table for a category",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := rules.NewEngine(cfg.Storage.HelperRoot, args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, field := range engine.Fields() {
			rule, ok := engine.Rule(field)
			if !ok {
				continue
			}
			unit := rule.Contract.Unit
			if unit == "" {
				unit = "-"
			}
			fmt.Fprintf(out, "%-28s %-10s %-8s %-8s unit=%s constraints=%d\n",
				field, rule.RequiredLevel, rule.Contract.Type, rule.Contract.Shape, unit, len(rule.Constraints))
		}
		return nil
	},
}

func init() {
	rulesCmd.AddCommand(rulesInstallCmd)
	rulesCmd.AddCommand(rulesShowCmd)
}
