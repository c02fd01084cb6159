package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rms81/fintrack-sub001/internal/domain/categorization"
)

func newRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage categorization rules",
	}
	cmd.AddCommand(
		newRulesAddCmd(),
		newRulesListCmd(),
		newRulesToggleCmd("enable", true),
		newRulesToggleCmd("disable", false),
		newRulesDeleteCmd(),
		newRulesApplyCmd(),
		newRulesSuggestCmd(),
	)
	return cmd
}

func newRulesAddCmd() *cobra.Command {
	var (
		name           string
		priority       int
		categoryFlag   string
		tags           []string
		conditionsFile string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a rule; invalid condition documents are rejected",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			conditions, err := os.ReadFile(conditionsFile)
			if err != nil {
				return err
			}
			var categoryID uuid.UUID
			if categoryFlag != "" {
				if categoryID, err = uuid.Parse(categoryFlag); err != nil {
					return fmt.Errorf("invalid category id: %w", err)
				}
			}

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			rule, err := a.rules.SaveRule(ctx, categorization.SaveRuleInput{
				Name:       name,
				Priority:   priority,
				Conditions: conditions,
				CategoryID: categoryID,
				Tags:       tags,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rule %s saved (priority %d)\n", rule.ID, rule.Priority)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "rule name")
	cmd.Flags().IntVar(&priority, "priority", 100, "evaluation priority, lower runs first")
	cmd.Flags().StringVar(&categoryFlag, "category", "", "category id the rule assigns")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "tags the rule adds")
	cmd.Flags().StringVar(&conditionsFile, "conditions-file", "", "JSON file with the condition tree")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("conditions-file")
	return cmd
}

func newRulesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List rules in evaluation order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			rules, err := a.rules.ListRules(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range rules {
				state := "active"
				if !r.Active {
					state = "disabled"
				}
				fmt.Fprintf(out, "%s  p%-4d %-8s %s", r.ID, r.Priority, state, r.Name)
				if len(r.Tags) > 0 {
					fmt.Fprintf(out, "  [%s]", strings.Join(r.Tags, ", "))
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
}

func newRulesToggleCmd(use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <rule-id>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid rule id: %w", err)
			}

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			return a.rules.SetRuleActive(ctx, id, active)
		},
	}
}

func newRulesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <rule-id>",
		Short: "Delete a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid rule id: %w", err)
			}

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			return a.rules.DeleteRule(ctx, id)
		},
	}
}

func newRulesApplyCmd() *cobra.Command {
	var (
		accountFlag string
		all         bool
	)
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply the active rules to an account's uncategorized transactions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			accountID, err := uuid.Parse(accountFlag)
			if err != nil {
				return fmt.Errorf("invalid account id: %w", err)
			}

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			applied, err := a.rules.ApplyRules(ctx, accountID, !all)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d transactions categorized\n", applied)
			return nil
		},
	}
	cmd.Flags().StringVar(&accountFlag, "account", "", "account id")
	cmd.Flags().BoolVar(&all, "all", false, "re-evaluate already categorized transactions too")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func newRulesSuggestCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "suggest <description>",
		Short: "Suggest existing categories for a description (advisory only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			suggestions, err := a.rules.Suggest(ctx, args[0], limit)
			if err != nil {
				return err
			}
			if len(suggestions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no suggestions")
				return nil
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(suggestions)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 3, "maximum suggestions")
	return cmd
}
