package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Veraticus/chargemap/internal/common"
	"github.com/Veraticus/chargemap/internal/model"
)

// ResolveCharge resolves one charge against the customer's stored rules.
func (e *Engine) ResolveCharge(ctx context.Context, customer string, charge model.Charge) (model.Resolution, error) {
	custom, global, err := e.store.ListRules(ctx, customer)
	if err != nil {
		return model.Resolution{}, fmt.Errorf("failed to load rules: %w", err)
	}

	if charge.CustomerName == "" {
		charge.CustomerName = customer
	}

	res := e.Resolve(charge, custom, global)
	e.observer.ObserveResolution(customer, res)
	return res, nil
}

// Candidates loads every charge of customer in state, page by page.
func (e *Engine) Candidates(ctx context.Context, customer string, state model.ChargeState) ([]model.Charge, error) {
	if e.pageSize <= 0 {
		charges, err := e.store.QueryCharges(ctx, customer, model.ChargeFilter{State: state})
		if err != nil {
			return nil, fmt.Errorf("failed to load charges: %w", err)
		}
		return charges, nil
	}

	var all []model.Charge
	for page := 1; ; page++ {
		charges, err := e.store.QueryCharges(ctx, customer, model.ChargeFilter{State: state, Page: page, PageSize: e.pageSize})
		if err != nil {
			return nil, fmt.Errorf("failed to load charges page %d: %w", page, err)
		}
		all = append(all, charges...)
		if len(charges) < e.pageSize {
			return all, nil
		}
	}
}

// PreviewDraft lists what an unsaved rule would change among the
// customer's charges in state.
func (e *Engine) PreviewDraft(ctx context.Context, customer string, draft model.RuleDraft, state model.ChargeState) ([]model.ChargeChange, error) {
	rule, err := e.draftRule(ctx, customer, draft)
	if err != nil {
		return nil, err
	}
	return e.preview(ctx, customer, rule, state)
}

// PreviewRule lists what a stored rule would change among the customer's charges in state.
func (e *Engine) PreviewRule(ctx context.Context, customer string, ruleID int64, state model.ChargeState) ([]model.ChargeChange, error) {
	rule, err := e.ruleForCustomer(ctx, customer, ruleID)
	if err != nil {
		return nil, err
	}
	return e.preview(ctx, customer, *rule, state)
}

func (e *Engine) preview(ctx context.Context, customer string, rule model.Rule, state model.ChargeState) ([]model.ChargeChange, error) {
	charges, err := e.Candidates(ctx, customer, state)
	if err != nil {
		return nil, err
	}

	changes, err := e.PreviewApply(rule, charges)
	if err != nil {
		return nil, err
	}

	e.observer.ObservePreview(customer, len(changes))
	return changes, nil
}

// RuleNotAppliedError reports a rule ApplyDraft saved but could not apply.
// The rule stays stored; apply it again with ApplyRule and RuleID.
type RuleNotAppliedError struct {
	RuleID int64
	Err    error
}

func (e *RuleNotAppliedError) Error() string {
	return fmt.Sprintf("rule %d was saved but not applied: %v", e.RuleID, e.Err)
}

func (e *RuleNotAppliedError) Unwrap() error {
	return e.Err
}

// ApplyDraft saves the draft as a new rule and applies it to the customer's
// charges in state. Once the rule is saved, a failure to apply it is returned
// as a *RuleNotAppliedError carrying the new rule's ID.
func (e *Engine) ApplyDraft(ctx context.Context, customer string, draft model.RuleDraft, state model.ChargeState, opts ApplyOptions) (*model.ApplyResult, error) {
	rule, err := e.draftRule(ctx, customer, draft)
	if err != nil {
		return nil, err
	}

	id, err := e.store.CreateRule(ctx, &rule)
	if err != nil {
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}

	slog.Info("Created rule from draft", "rule_id", id, "customer", customer, "classification", rule.Classification)

	result, err := e.ApplyRule(ctx, customer, id, state, opts)
	if err != nil {
		return nil, &RuleNotAppliedError{RuleID: id, Err: err}
	}
	return result, nil
}

// ApplyRule applies a stored rule to the customer's charges in state.
func (e *Engine) ApplyRule(ctx context.Context, customer string, ruleID int64, state model.ChargeState, opts ApplyOptions) (*model.ApplyResult, error) {
	rule, err := e.ruleForCustomer(ctx, customer, ruleID)
	if err != nil {
		return nil, err
	}
	charges, err := e.Candidates(ctx, customer, state)
	if err != nil {
		return nil, err
	}

	opts.CustomerName = customer
	return e.Apply(ctx, *rule, charges, opts)
}

// Recategorize re-resolves the customer's charges in state against every
// enabled rule. With dryRun it only reports the changes.
func (e *Engine) Recategorize(ctx context.Context, customer string, state model.ChargeState, dryRun bool, opts ApplyOptions) ([]model.ChargeChange, *model.ApplyResult, error) {
	custom, global, err := e.store.ListRules(ctx, customer)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load rules: %w", err)
	}

	charges, err := e.Candidates(ctx, customer, state)
	if err != nil {
		return nil, nil, err
	}

	changes := e.PreviewResolve(charges, custom, global)
	e.observer.ObservePreview(customer, len(changes))
	if dryRun {
		return changes, nil, nil
	}

	result := e.newResult(customer, 0, len(charges), len(changes))
	e.write(ctx, result, changes, opts.OnProgress)
	e.finish(ctx, result)

	slog.Info("Recategorized charges", runFields(result).Attrs()...)

	return changes, result, nil
}

// draftRule turns a draft into a rule owned by customer, after checking
// that the customer exists.
func (e *Engine) draftRule(ctx context.Context, customer string, draft model.RuleDraft) (model.Rule, error) {
	if _, err := e.store.GetCustomer(ctx, customer); err != nil {
		return model.Rule{}, err
	}

	if draft.Scope == "" {
		draft.Scope = model.ScopeCustom
	}
	if draft.Scope == model.ScopeCustom {
		if draft.CustomerName == "" {
			draft.CustomerName = customer
		}
		if draft.CustomerName != customer {
			return model.Rule{}, common.NewValidationError("customer_name",
				"draft belongs to %q, not %q", draft.CustomerName, customer)
		}
	}
	return draft.Rule(), nil
}

// ruleForCustomer loads a rule and checks that it is enabled and can apply
// to customer.
func (e *Engine) ruleForCustomer(ctx context.Context, customer string, ruleID int64) (*model.Rule, error) {
	if _, err := e.store.GetCustomer(ctx, customer); err != nil {
		return nil, err
	}

	rule, err := e.store.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if rule.Scope == model.ScopeCustom && rule.CustomerName != customer {
		return nil, common.NewValidationError("rule", "rule %d belongs to %q, not %q", ruleID, rule.CustomerName, customer)
	}
	if err := checkEnabled(*rule); err != nil {
		return nil, err
	}
	return rule, nil
}
