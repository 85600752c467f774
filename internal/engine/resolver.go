package engine

import (
	"cmp"
	"slices"

	"github.com/Veraticus/chargemap/internal/common"
	"github.com/Veraticus/chargemap/internal/model"
	"github.com/Veraticus/chargemap/internal/pattern"
)

// Resolver decides which rule, if any, claims a charge. It has no side effects.
type Resolver struct {
	matcher pattern.RuleMatcher
}

// NewResolver creates a resolver that evaluates rules with matcher.
func NewResolver(matcher pattern.RuleMatcher) *Resolver {
	return &Resolver{matcher: matcher}
}

// Resolve evaluates custom rules before global rules, each in priority order,
// and returns the first match. Disabled rules are skipped. Without a match
// the charge keeps its current classification.
func (r *Resolver) Resolve(charge model.Charge, custom, global []model.Rule) model.Resolution {
	return r.resolveOrdered(charge, orderRules(custom), orderRules(global))
}

// PreviewApply lists the charges rule alone would reclassify. Charges that
// already carry the target classification are not changes. A disabled rule
// is rejected, the same way resolution never evaluates it.
func (r *Resolver) PreviewApply(rule model.Rule, charges []model.Charge) ([]model.ChargeChange, error) {
	if err := checkEnabled(rule); err != nil {
		return nil, err
	}
	if err := pattern.ValidateRule(rule); err != nil {
		return nil, err
	}

	var changes []model.ChargeChange
	for _, charge := range charges {
		if !r.matcher.Matches(charge, rule) {
			continue
		}
		current := charge.CurrentClassification()
		if current == rule.Classification {
			continue
		}
		changes = append(changes, model.ChargeChange{
			Charge:            charge,
			OldClassification: current,
			NewClassification: rule.Classification,
			RuleID:            rule.ID,
		})
	}
	return changes, nil
}

func checkEnabled(rule model.Rule) error {
	if !rule.Enabled {
		return common.NewValidationError("rule", "rule %d is disabled", rule.ID)
	}
	return nil
}

// PreviewResolve re-resolves every charge against the full rule set and
// lists the ones whose classification would change.
func (r *Resolver) PreviewResolve(charges []model.Charge, custom, global []model.Rule) []model.ChargeChange {
	custom, global = orderRules(custom), orderRules(global)

	var changes []model.ChargeChange
	for _, charge := range charges {
		res := r.resolveOrdered(charge, custom, global)
		if !res.Matched() || !res.Changed() {
			continue
		}
		changes = append(changes, model.ChargeChange{
			Charge:            charge,
			OldClassification: res.PreviousClassification,
			NewClassification: res.Classification,
			RuleID:            *res.MatchedRuleID,
		})
	}
	return changes
}

func (r *Resolver) resolveOrdered(charge model.Charge, custom, global []model.Rule) model.Resolution {
	current := charge.CurrentClassification()
	res := model.Resolution{
		ChargeID:               charge.ID,
		PreviousClassification: current,
		Classification:         current,
		Considered:             []int64{},
	}

	tiers := []struct {
		scope model.RuleScope
		rules []model.Rule
	}{
		{model.ScopeCustom, custom},
		{model.ScopeGlobal, global},
	}

	for _, tier := range tiers {
		for _, rule := range tier.rules {
			if !rule.Enabled {
				continue
			}
			if tier.scope == model.ScopeCustom && rule.CustomerName != "" &&
				charge.CustomerName != "" && rule.CustomerName != charge.CustomerName {
				continue
			}

			res.Considered = append(res.Considered, rule.ID)
			if r.matcher.Matches(charge, rule) {
				id := rule.ID
				res.MatchedRuleID = &id
				res.MatchedScope = tier.scope
				res.Classification = rule.Classification
				return res
			}
		}
	}

	return res
}

// orderRules returns a copy sorted by priority, ties broken by id.
func orderRules(rules []model.Rule) []model.Rule {
	ordered := slices.Clone(rules)
	slices.SortStableFunc(ordered, func(a, b model.Rule) int {
		if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return ordered
}
