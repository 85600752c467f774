package engine

import (
	"testing"

	"github.com/Veraticus/chargemap/internal/common"
	"github.com/Veraticus/chargemap/internal/model"
	"github.com/Veraticus/chargemap/internal/pattern"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contains(value string) []model.MatchCondition {
	return []model.MatchCondition{{Field: model.FieldChargeName, Operator: model.OpContains, Value: value}}
}

func rule(id int64, scope model.RuleScope, priority int, classification string, conds []model.MatchCondition) model.Rule {
	r := model.Rule{
		ID:             id,
		Scope:          scope,
		Priority:       priority,
		Classification: classification,
		Conditions:     conds,
		Enabled:        true,
	}
	if scope == model.ScopeCustom {
		r.CustomerName = "AmerescoFTP"
	}
	return r
}

func charge(id, name string) model.Charge {
	return model.Charge{ID: id, CustomerName: "AmerescoFTP", ChargeName: name, Classification: model.UncategorizedCharge}
}

func TestResolve_AmerescoScenario(t *testing.T) {
	r := NewResolver(pattern.NewMatcher())

	global := []model.Rule{rule(1, model.ScopeGlobal, 10, "ch.usage_charge", contains("Rider"))}
	custom := []model.Rule{rule(2, model.ScopeCustom, 5, "NewBatch", []model.MatchCondition{
		{Field: model.FieldChargeName, Operator: model.OpExactlyMatches, Value: "CHP Rider"},
	})}

	chp := r.Resolve(charge("c1", "CHP Rider"), custom, global)
	require.True(t, chp.Matched())
	assert.Equal(t, "NewBatch", chp.Classification)
	assert.Equal(t, int64(2), *chp.MatchedRuleID)
	assert.Equal(t, model.ScopeCustom, chp.MatchedScope)
	assert.Equal(t, []int64{2}, chp.Considered)

	solar := r.Resolve(charge("c2", "Solar Rider"), custom, global)
	require.True(t, solar.Matched())
	assert.Equal(t, "ch.usage_charge", solar.Classification)
	assert.Equal(t, model.ScopeGlobal, solar.MatchedScope)
	assert.Equal(t, []int64{2, 1}, solar.Considered)
}

func TestResolve_Ordering(t *testing.T) {
	r := NewResolver(pattern.NewMatcher())
	c := charge("c1", "Distribution Charge")

	tests := []struct {
		name   string
		custom []model.Rule
		global []model.Rule
		want   string
	}{
		{
			name:   "custom beats global regardless of priority",
			custom: []model.Rule{rule(1, model.ScopeCustom, 100, "ch.custom", contains("charge"))},
			global: []model.Rule{rule(2, model.ScopeGlobal, 1, "ch.global", contains("charge"))},
			want:   "ch.custom",
		},
		{
			name: "lower priority first within scope",
			custom: []model.Rule{
				rule(1, model.ScopeCustom, 9, "ch.late", contains("charge")),
				rule(2, model.ScopeCustom, 3, "ch.early", contains("distribution")),
			},
			want: "ch.early",
		},
		{
			name: "ties broken by id",
			global: []model.Rule{
				rule(7, model.ScopeGlobal, 4, "ch.seven", contains("charge")),
				rule(5, model.ScopeGlobal, 4, "ch.five", contains("charge")),
			},
			want: "ch.five",
		},
		{
			name: "disabled rules are skipped",
			custom: []model.Rule{
				func() model.Rule {
					r := rule(1, model.ScopeCustom, 1, "ch.off", contains("charge"))
					r.Enabled = false
					return r
				}(),
			},
			global: []model.Rule{rule(2, model.ScopeGlobal, 1, "ch.global", contains("charge"))},
			want:   "ch.global",
		},
		{
			name: "other customers' custom rules never apply",
			custom: []model.Rule{
				func() model.Rule {
					r := rule(1, model.ScopeCustom, 1, "ch.other", contains("charge"))
					r.CustomerName = "Someone Else"
					return r
				}(),
			},
			want: model.UncategorizedCharge,
		},
		{
			name:   "no match leaves classification unchanged",
			custom: []model.Rule{rule(1, model.ScopeCustom, 1, "ch.x", contains("wind"))},
			global: []model.Rule{rule(2, model.ScopeGlobal, 1, "ch.y", contains("solar"))},
			want:   model.UncategorizedCharge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Resolve(c, tt.custom, tt.global)
			assert.Equal(t, tt.want, res.Classification)
			assert.Equal(t, model.UncategorizedCharge, res.PreviousClassification)
		})
	}
}

func TestResolve_NoMatchKeepsExistingClassification(t *testing.T) {
	r := NewResolver(pattern.NewMatcher())
	c := charge("c1", "Meter Fee")
	c.Classification = "ch.fees"

	res := r.Resolve(c, nil, nil)
	assert.False(t, res.Matched())
	assert.False(t, res.Changed())
	assert.Equal(t, "ch.fees", res.Classification)
	assert.Empty(t, res.Considered)
}

func TestResolve_Deterministic(t *testing.T) {
	r := NewResolver(pattern.NewMatcher())
	custom := []model.Rule{
		rule(3, model.ScopeCustom, 2, "ch.b", contains("fee")),
		rule(1, model.ScopeCustom, 2, "ch.a", contains("fee")),
	}
	c := charge("c1", "Late Fee")

	first := r.Resolve(c, custom, nil)
	for range 20 {
		assert.Empty(t, cmp.Diff(first, r.Resolve(c, custom, nil)))
	}
	assert.Equal(t, "ch.a", first.Classification)
	assert.Equal(t, int64(3), custom[0].ID, "input order is not modified")
}

func TestResolve_CaseInsensitive(t *testing.T) {
	r := NewResolver(pattern.NewMatcher())
	exact := rule(1, model.ScopeGlobal, 1, "ch.service_fee", []model.MatchCondition{
		{Field: model.FieldChargeName, Operator: model.OpExactlyMatches, Value: "Electric Service Fee"},
	})

	res := r.Resolve(charge("c1", "electric service fee"), nil, []model.Rule{exact})
	assert.Equal(t, "ch.service_fee", res.Classification)
}

func TestPreviewApply(t *testing.T) {
	r := NewResolver(pattern.NewMatcher())
	target := rule(4, model.ScopeCustom, 1, "ch.rider", contains("rider"))

	already := charge("c3", "Wind Rider")
	already.Classification = "ch.rider"
	charges := []model.Charge{
		charge("c1", "CHP Rider"),
		charge("c2", "Delivery"),
		already,
	}

	changes, err := r.PreviewApply(target, charges)
	require.NoError(t, err)

	want := []model.ChargeChange{{
		Charge:            charges[0],
		OldClassification: model.UncategorizedCharge,
		NewClassification: "ch.rider",
		RuleID:            4,
	}}
	if diff := cmp.Diff(want, changes); diff != "" {
		t.Errorf("PreviewApply() mismatch (-want +got):\n%s", diff)
	}

	bad := target
	bad.Conditions = []model.MatchCondition{{Field: model.FieldChargeName, Operator: model.OpRegex, Value: "(["}}
	_, err = r.PreviewApply(bad, charges)
	assert.ErrorIs(t, err, common.ErrValidation)

	disabled := target
	disabled.Enabled = false
	_, err = r.PreviewApply(disabled, charges)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestPreviewResolve(t *testing.T) {
	r := NewResolver(pattern.NewMatcher())
	custom := []model.Rule{rule(2, model.ScopeCustom, 5, "NewBatch", contains("chp"))}
	global := []model.Rule{rule(1, model.ScopeGlobal, 10, "ch.usage_charge", contains("rider"))}

	settled := charge("c3", "Solar Rider")
	settled.Classification = "ch.usage_charge"
	charges := []model.Charge{charge("c1", "CHP Rider"), charge("c2", "Meter Fee"), settled}

	changes := r.PreviewResolve(charges, custom, global)
	require.Len(t, changes, 1)
	assert.Equal(t, "c1", changes[0].Charge.ID)
	assert.Equal(t, "NewBatch", changes[0].NewClassification)
	assert.Equal(t, int64(2), changes[0].RuleID)
}
