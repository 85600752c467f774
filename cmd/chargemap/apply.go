package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/Veraticus/chargemap/internal/cli"
	"github.com/Veraticus/chargemap/internal/common"
	"github.com/Veraticus/chargemap/internal/config"
	"github.com/Veraticus/chargemap/internal/engine"
	"github.com/Veraticus/chargemap/internal/model"
	"github.com/Veraticus/chargemap/internal/storage"
	"github.com/spf13/cobra"
)

// ruleTarget is either a stored rule or a draft described by flags.
type ruleTarget struct {
	draft  model.RuleDraft
	ruleID int64
}

func addRuleTargetFlags(cmd *cobra.Command) {
	addCustomerFlag(cmd)
	addStateFlag(cmd, model.StateAll)
	cmd.Flags().Int64("rule", 0, "use a stored rule instead of draft flags")
	addDraftFlags(cmd)
}

func ruleTargetFromFlags(cmd *cobra.Command, customer string) (ruleTarget, error) {
	ruleID, _ := cmd.Flags().GetInt64("rule")
	usesDraft := cmd.Flags().Changed("when") || cmd.Flags().Changed("classification")

	switch {
	case ruleID != 0 && usesDraft:
		return ruleTarget{}, common.NewValidationError("rule", "use either --rule or --when/--classification, not both")
	case ruleID != 0:
		return ruleTarget{ruleID: ruleID}, nil
	case !usesDraft:
		return ruleTarget{}, common.NewValidationError("rule", "give --rule or describe a draft with --when and --classification")
	}

	draft, err := draftFromFlags(cmd, customer)
	if err != nil {
		return ruleTarget{}, err
	}
	return ruleTarget{draft: draft}, nil
}

func (t ruleTarget) preview(ctx context.Context, eng *engine.Engine, customer string, state model.ChargeState) ([]model.ChargeChange, error) {
	if t.ruleID != 0 {
		return eng.PreviewRule(ctx, customer, t.ruleID, state)
	}
	return eng.PreviewDraft(ctx, customer, t.draft, state)
}

func (t ruleTarget) apply(ctx context.Context, eng *engine.Engine, customer string, state model.ChargeState, opts engine.ApplyOptions) (*model.ApplyResult, error) {
	if t.ruleID != 0 {
		return eng.ApplyRule(ctx, customer, t.ruleID, state, opts)
	}

	result, err := eng.ApplyDraft(ctx, customer, t.draft, state, opts)
	var notApplied *engine.RuleNotAppliedError
	if errors.As(err, &notApplied) {
		return nil, common.NewUserError(fmt.Sprintf("rule %d was saved but not applied (%s); rerun with --rule %d",
			notApplied.RuleID, common.UserMessage(notApplied.Err), notApplied.RuleID), err)
	}
	return result, err
}

func previewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Show what a rule would change without writing anything",
		Long: `Preview the charges a rule would reclassify. The rule is either a stored
rule (--rule) or a draft described with --when and --classification. A
draft is not saved.

Example:
  chargemap preview -c AmerescoFTP --classification NewBatch \
    --when "charge_name:exactly_matches:CHP Rider"`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			customer := customerFlag(cmd)
			state, err := stateFlag(cmd)
			if err != nil {
				return err
			}
			target, err := ruleTargetFromFlags(cmd, customer)
			if err != nil {
				return err
			}

			return withStorage(cmd.Context(), func(cfg *config.Config, store *storage.SQLiteStorage) error {
				changes, err := target.preview(cmd.Context(), initEngine(store, cfg), customer, state)
				if err != nil {
					return err
				}
				return renderPreview(cmd, changes)
			})
		},
	}

	addRuleTargetFlags(cmd)

	return cmd
}

func renderPreview(cmd *cobra.Command, changes []model.ChargeChange) error {
	out := cmd.OutOrStdout()
	if len(changes) == 0 {
		_, err := fmt.Fprintln(out, cli.FormatInfo("No charges would change."))
		return err
	}
	if err := cli.RenderChanges(out, changes); err != nil {
		return err
	}
	_, err := fmt.Fprintln(out, cli.SubtleStyle.Render(fmt.Sprintf("%d charge(s) would change", len(changes))))
	return err
}

// confirm asks before writing unless --yes was given.
func confirm(ctx context.Context, cmd *cobra.Command, question string) (bool, error) {
	if yes, _ := cmd.Flags().GetBool("yes"); yes {
		return true, nil
	}
	return cli.NewNonBlockingReader(cmd.InOrStdin()).Confirm(ctx, cmd.OutOrStdout(), question)
}

// runApply runs write under an interrupt handler with a progress bar and
// renders the result.
func runApply(cmd *cobra.Command, write func(ctx context.Context, opts engine.ApplyOptions) (*model.ApplyResult, error)) error {
	handler := cli.NewInterruptHandler(cmd.ErrOrStderr())
	ctx, cancel := handler.HandleInterrupts(cmd.Context())
	defer cancel()

	progress := cli.NewApplyProgress(cmd.ErrOrStderr(), "Applying")
	result, err := write(ctx, engine.ApplyOptions{OnProgress: progress.Update})
	if err != nil {
		return err
	}
	if err := cli.RenderApplyResult(cmd.OutOrStdout(), result); err != nil {
		return err
	}
	if handler.WasInterrupted() {
		return common.NewUserError("apply interrupted before all charges were written", context.Canceled)
	}
	return nil
}

func applyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a rule to a customer's charges",
		Long: `Show the preview for a rule, ask for confirmation, then write the new
classification to every matching charge. A draft is saved as a rule first.
Charges that fail to update are listed; the rest are written. Applying the
same rule again changes nothing.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			customer := customerFlag(cmd)
			state, err := stateFlag(cmd)
			if err != nil {
				return err
			}
			target, err := ruleTargetFromFlags(cmd, customer)
			if err != nil {
				return err
			}

			return withStorage(cmd.Context(), func(cfg *config.Config, store *storage.SQLiteStorage) error {
				ctx := cmd.Context()
				eng := initEngine(store, cfg)

				changes, err := target.preview(ctx, eng, customer, state)
				if err != nil {
					return err
				}
				if err := renderPreview(cmd, changes); err != nil {
					return err
				}
				if len(changes) == 0 {
					return nil
				}

				ok, err := confirm(ctx, cmd, fmt.Sprintf("Apply to %d charge(s)?", len(changes)))
				if err != nil {
					return err
				}
				if !ok {
					_, err := fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("Nothing written."))
					return err
				}

				return runApply(cmd, func(ctx context.Context, opts engine.ApplyOptions) (*model.ApplyResult, error) {
					return target.apply(ctx, eng, customer, state, opts)
				})
			})
		},
	}

	addRuleTargetFlags(cmd)
	cmd.Flags().BoolP("yes", "y", false, "apply without asking")

	return cmd
}

func recategorizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recategorize",
		Short: "Re-resolve a customer's charges against all rules",
		Long: `Resolve every charge in the chosen state against the customer's rules and
then the global rules, and write the classifications that differ. Use
--dry-run to only list the changes.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			customer := customerFlag(cmd)
			state, err := stateFlag(cmd)
			if err != nil {
				return err
			}
			dryRun, _ := cmd.Flags().GetBool("dry-run")

			return withStorage(cmd.Context(), func(cfg *config.Config, store *storage.SQLiteStorage) error {
				ctx := cmd.Context()
				eng := initEngine(store, cfg)

				changes, _, err := eng.Recategorize(ctx, customer, state, true, engine.ApplyOptions{})
				if err != nil {
					return err
				}
				if err := renderPreview(cmd, changes); err != nil {
					return err
				}
				if dryRun || len(changes) == 0 {
					return nil
				}

				ok, err := confirm(ctx, cmd, fmt.Sprintf("Reclassify %d charge(s)?", len(changes)))
				if err != nil {
					return err
				}
				if !ok {
					_, err := fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("Nothing written."))
					return err
				}

				return runApply(cmd, func(ctx context.Context, opts engine.ApplyOptions) (*model.ApplyResult, error) {
					_, result, err := eng.Recategorize(ctx, customer, state, false, opts)
					return result, err
				})
			})
		},
	}

	addCustomerFlag(cmd)
	addStateFlag(cmd, model.StateUncategorized)
	cmd.Flags().Bool("dry-run", false, "list changes without writing")
	cmd.Flags().BoolP("yes", "y", false, "write without asking")

	return cmd
}
