package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/Veraticus/chargemap/internal/cli"
	"github.com/Veraticus/chargemap/internal/common"
	"github.com/Veraticus/chargemap/internal/config"
	"github.com/Veraticus/chargemap/internal/model"
	"github.com/Veraticus/chargemap/internal/ruleset"
	"github.com/Veraticus/chargemap/internal/storage"
	"github.com/spf13/cobra"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage match rules",
		Long: `Manage the ordered rules that map charges to classifications.

Conditions are written as field:operator:value. Fields are charge_name,
account_number, meter_number, provider_name, usage_unit, service_type, and
measurement. Operators are exactly_matches, contains, starts_with,
ends_with, and regex. All comparisons ignore case.`,
	}

	cmd.AddCommand(rulesListCmd())
	cmd.AddCommand(rulesShowCmd())
	cmd.AddCommand(rulesCreateCmd())
	cmd.AddCommand(rulesEditCmd())
	cmd.AddCommand(rulesPriorityCmd())
	cmd.AddCommand(rulesReorderCmd())
	cmd.AddCommand(rulesEnableCmd(true))
	cmd.AddCommand(rulesEnableCmd(false))
	cmd.AddCommand(rulesApproveCmd())
	cmd.AddCommand(rulesExportCmd())

	return cmd
}

func parseRuleID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, common.NewValidationError("id", "must be a positive integer, got %q", s)
	}
	return id, nil
}

func parseRuleIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := parseRuleID(a)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func rulesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rules in evaluation order",
		Long: `List rules. With --customer, the customer's rules come first and global
rules after them, each in priority order: the order the resolver tries them.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			customer, _ := cmd.Flags().GetString("customer")
			scope, _ := cmd.Flags().GetString("scope")
			classification, _ := cmd.Flags().GetString("classification")
			provider, _ := cmd.Flags().GetString("provider")
			value, _ := cmd.Flags().GetString("value")
			all, _ := cmd.Flags().GetBool("all")

			return withStorage(cmd.Context(), func(_ *config.Config, store *storage.SQLiteStorage) error {
				rules, err := store.QueryRules(cmd.Context(), customer, model.RuleFilter{
					Scope:           model.RuleScope(scope),
					Classification:  classification,
					Provider:        provider,
					Value:           value,
					IncludeDisabled: all,
				})
				if err != nil {
					return err
				}
				if len(rules) == 0 {
					_, err := fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("No rules found."))
					return err
				}
				return cli.RenderRules(cmd.OutOrStdout(), rules)
			})
		},
	}

	cmd.Flags().StringP("customer", "c", "", "show rules that apply to this customer")
	cmd.Flags().String("scope", "", "custom or global")
	cmd.Flags().String("classification", "", "only rules with this classification")
	cmd.Flags().String("provider", "", "only rules with a provider_name condition equal to this")
	cmd.Flags().String("value", "", "only rules with a condition value containing this")
	cmd.Flags().Bool("all", false, "include disabled rules")

	return cmd
}

func rulesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRuleID(args[0])
			if err != nil {
				return err
			}
			return withStorage(cmd.Context(), func(_ *config.Config, store *storage.SQLiteStorage) error {
				rule, err := store.GetRule(cmd.Context(), id)
				if err != nil {
					return err
				}
				return cli.RenderRule(cmd.OutOrStdout(), rule)
			})
		},
	}
}

func rulesCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a rule without applying it",
		Long: `Create a rule. Use 'chargemap preview' first to see what it would change,
or 'chargemap apply' with the same flags to create and apply in one step.

Example:
  chargemap rules create -c AmerescoFTP --classification NewBatch \
    --when "charge_name:exactly_matches:CHP Rider" --priority 5`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			customer, _ := cmd.Flags().GetString("customer")
			draft, err := draftFromFlags(cmd, customer)
			if err != nil {
				return err
			}

			return withStorage(cmd.Context(), func(_ *config.Config, store *storage.SQLiteStorage) error {
				rule := draft.Rule()
				id, err := store.CreateRule(cmd.Context(), &rule)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf(
					"Created %s rule %d at priority %d", rule.Scope, id, rule.Priority)))
				return err
			})
		},
	}

	cmd.Flags().StringP("customer", "c", "", "customer that owns the rule (not used with --global)")
	addDraftFlags(cmd)

	return cmd
}

func rulesEditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change a rule",
		Long: `Change a rule's name, classification, heading, priority, or conditions.
--when replaces every condition. Changing conditions or classification
clears the rule's approval.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRuleID(args[0])
			if err != nil {
				return err
			}

			var changes model.RuleChanges
			flags := cmd.Flags()
			if flags.Changed("name") {
				v, _ := flags.GetString("name")
				changes.Name = &v
			}
			if flags.Changed("classification") {
				v, _ := flags.GetString("classification")
				changes.Classification = &v
			}
			if flags.Changed("heading") {
				v, _ := flags.GetString("heading")
				changes.ChargeGroupHeading = &v
			}
			if flags.Changed("priority") {
				v, _ := flags.GetInt("priority")
				changes.Priority = &v
			}
			if flags.Changed("expect-version") {
				v, _ := flags.GetInt("expect-version")
				changes.ExpectedVersion = &v
			}
			if flags.Changed("when") {
				specs, _ := flags.GetStringArray("when")
				conditions, err := parseConditions(specs)
				if err != nil {
					return err
				}
				changes.Conditions = conditions
			}
			if changes.IsEmpty() {
				return common.NewValidationError("flags", "nothing to change")
			}

			return withStorage(cmd.Context(), func(_ *config.Config, store *storage.SQLiteStorage) error {
				if err := store.UpdateRule(cmd.Context(), id, changes); err != nil {
					return err
				}
				rule, err := store.GetRule(cmd.Context(), id)
				if err != nil {
					return err
				}
				return cli.RenderRule(cmd.OutOrStdout(), rule)
			})
		},
	}

	cmd.Flags().StringArray("when", nil, "replacement condition as field:operator:value (repeatable)")
	cmd.Flags().String("classification", "", "new classification")
	cmd.Flags().String("name", "", "new name")
	cmd.Flags().String("heading", "", "new charge group heading")
	cmd.Flags().Int("priority", 0, "new priority")
	cmd.Flags().Int("expect-version", 0, "fail unless the rule is still at this version")

	return cmd
}

func rulesPriorityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "priority <id> <priority>",
		Short: "Move a rule to a free priority",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRuleID(args[0])
			if err != nil {
				return err
			}
			priority, err := strconv.Atoi(args[1])
			if err != nil {
				return common.NewValidationError("priority", "must be an integer, got %q", args[1])
			}

			return withStorage(cmd.Context(), func(_ *config.Config, store *storage.SQLiteStorage) error {
				if err := store.UpdatePriority(cmd.Context(), id, priority); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Rule %d now at priority %d", id, priority)))
				return err
			})
		},
	}
}

func rulesReorderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reorder <id>...",
		Short: "Renumber rules in the given order",
		Long: `Give the listed rules priorities 1, 2, 3... in the order listed. Other
rules of the same scope keep their relative order after them.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseRuleIDs(args)
			if err != nil {
				return err
			}
			customer, _ := cmd.Flags().GetString("customer")
			global, _ := cmd.Flags().GetBool("global")
			scope := model.ScopeCustom
			if global {
				scope = model.ScopeGlobal
			}

			return withStorage(cmd.Context(), func(_ *config.Config, store *storage.SQLiteStorage) error {
				if err := store.ReorderRules(cmd.Context(), scope, customer, ids); err != nil {
					return err
				}
				queryCustomer := customer
				if global {
					queryCustomer = ""
				}
				rules, err := store.QueryRules(cmd.Context(), queryCustomer, model.RuleFilter{Scope: scope, IncludeDisabled: true})
				if err != nil {
					return err
				}
				return cli.RenderRules(cmd.OutOrStdout(), rules)
			})
		},
	}

	cmd.Flags().StringP("customer", "c", "", "customer whose rules to reorder")
	cmd.Flags().Bool("global", false, "reorder global rules")

	return cmd
}

func rulesEnableCmd(enabled bool) *cobra.Command {
	use, short, verb := "enable <id>...", "Enable rules", "Enabled"
	if !enabled {
		use, short, verb = "disable <id>...", "Disable rules (they stay stored but never match)", "Disabled"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseRuleIDs(args)
			if err != nil {
				return err
			}
			return withStorage(cmd.Context(), func(_ *config.Config, store *storage.SQLiteStorage) error {
				for _, id := range ids {
					if err := store.SetRuleEnabled(cmd.Context(), id, enabled); err != nil {
						return err
					}
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("%s %d rule(s)", verb, len(ids))))
				return err
			})
		},
	}
}

func rulesApproveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve <id>...",
		Short: "Mark rules as reviewed",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseRuleIDs(args)
			if err != nil {
				return err
			}
			approver, _ := cmd.Flags().GetString("by")
			if approver == "" {
				approver = os.Getenv("USER")
			}

			return withStorage(cmd.Context(), func(_ *config.Config, store *storage.SQLiteStorage) error {
				if err := store.ApproveRules(cmd.Context(), ids, approver); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Approved %d rule(s) as %s", len(ids), approver)))
				return err
			})
		},
	}

	cmd.Flags().String("by", "", "approver name (default: $USER)")

	return cmd
}

func rulesExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write rules as a YAML bundle",
		Long: `Write rules, including disabled ones, as a YAML bundle that 'chargemap seed'
can load. With --customer only that customer's rules and the global rules
are written.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			customer, _ := cmd.Flags().GetString("customer")
			output, _ := cmd.Flags().GetString("output")

			return withStorage(cmd.Context(), func(_ *config.Config, store *storage.SQLiteStorage) error {
				bundle, err := ruleset.Export(cmd.Context(), store, customer)
				if err != nil {
					return err
				}

				if output == "" || output == "-" {
					return ruleset.Write(cmd.OutOrStdout(), bundle)
				}

				f, err := os.Create(config.ExpandPath(output))
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", output, err)
				}
				if err := ruleset.Write(f, bundle); err != nil {
					_ = f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return fmt.Errorf("failed to close %s: %w", output, err)
				}
				_, err = fmt.Fprintln(cmd.ErrOrStderr(), cli.FormatSuccess(fmt.Sprintf("Exported %d rules to %s", len(bundle.Rules), output)))
				return err
			})
		},
	}

	cmd.Flags().StringP("customer", "c", "", "export only rules that apply to this customer")
	cmd.Flags().StringP("output", "o", "-", "output file (- for stdout)")

	return cmd
}
