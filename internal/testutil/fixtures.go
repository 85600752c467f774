package testutil

import (
	"context"
	"testing"

	"github.com/Veraticus/chargemap/internal/model"
	"github.com/Veraticus/chargemap/internal/storage"
)

// Customer names used across tests.
const (
	CustomerAmeresco = "AmerescoFTP"
	CustomerOther    = "Other"
)

// Fixtures is a fluent builder for customers, rules, and charges. Rules are
// stored in the order they were added and their IDs are recorded by name.
type Fixtures struct {
	RuleIDs   map[string]int64
	customers []model.Customer
	rules     []model.RuleDraft
	charges   []model.Charge
}

// NewFixtures returns an empty builder.
func NewFixtures() *Fixtures {
	return &Fixtures{RuleIDs: make(map[string]int64)}
}

// WithCustomers adds customers by name.
func (f *Fixtures) WithCustomers(names ...string) *Fixtures {
	for _, name := range names {
		f.customers = append(f.customers, model.Customer{Name: name})
	}
	return f
}

// WithRule adds a rule. Its ID is recorded under draft.Name.
func (f *Fixtures) WithRule(draft model.RuleDraft) *Fixtures {
	f.rules = append(f.rules, draft)
	return f
}

// WithCharge adds an uncategorized charge for customer.
func (f *Fixtures) WithCharge(customer, id, chargeName string) *Fixtures {
	f.charges = append(f.charges, model.Charge{ID: id, CustomerName: customer, ChargeName: chargeName})
	return f
}

// WithCharges adds fully specified charges.
func (f *Fixtures) WithCharges(charges ...model.Charge) *Fixtures {
	f.charges = append(f.charges, charges...)
	return f
}

// Seed writes the fixtures to store, failing the test on any error.
func (f *Fixtures) Seed(t *testing.T, store *storage.SQLiteStorage) {
	t.Helper()
	ctx := context.Background()

	for i := range f.customers {
		if err := store.CreateCustomer(ctx, &f.customers[i]); err != nil {
			t.Fatalf("failed to seed customer %q: %v", f.customers[i].Name, err)
		}
	}

	for _, draft := range f.rules {
		rule := draft.Rule()
		id, err := store.CreateRule(ctx, &rule)
		if err != nil {
			t.Fatalf("failed to seed rule %q: %v", draft.Name, err)
		}
		f.RuleIDs[draft.Name] = id
	}

	if len(f.charges) > 0 {
		if err := store.SaveCharges(ctx, f.charges); err != nil {
			t.Fatalf("failed to seed charges: %v", err)
		}
	}
}

// ChargeNameIs is a single charge_name exactly_matches condition.
func ChargeNameIs(value string) []model.MatchCondition {
	return []model.MatchCondition{{Field: model.FieldChargeName, Operator: model.OpExactlyMatches, Value: value}}
}

// ChargeNameContains is a single charge_name contains condition.
func ChargeNameContains(value string) []model.MatchCondition {
	return []model.MatchCondition{{Field: model.FieldChargeName, Operator: model.OpContains, Value: value}}
}

// RidersAreUsage is the global priority 10 rule sending any "Rider" charge to
// ch.usage_charge.
func RidersAreUsage() model.RuleDraft {
	return model.RuleDraft{
		Scope:          model.ScopeGlobal,
		Name:           "Riders are usage",
		Classification: "ch.usage_charge",
		Priority:       10,
		Conditions:     ChargeNameContains("Rider"),
	}
}

// CHPBatch is AmerescoFTP's priority 5 rule sending "CHP Rider" to NewBatch.
func CHPBatch() model.RuleDraft {
	return model.RuleDraft{
		Scope:          model.ScopeCustom,
		CustomerName:   CustomerAmeresco,
		Name:           "CHP batch",
		Classification: "NewBatch",
		Priority:       5,
		Conditions:     ChargeNameIs("CHP Rider"),
	}
}

// AmerescoScenario is two customers, the global rider rule, the CHP batch
// rule, and four AmerescoFTP charges a1..a4.
func AmerescoScenario() *Fixtures {
	return NewFixtures().
		WithCustomers(CustomerAmeresco, CustomerOther).
		WithRule(RidersAreUsage()).
		WithRule(CHPBatch()).
		WithCharge(CustomerAmeresco, "a1", "CHP Rider").
		WithCharge(CustomerAmeresco, "a2", "Solar Rider").
		WithCharge(CustomerAmeresco, "a3", "Meter Fee").
		WithCharge(CustomerAmeresco, "a4", "chp rider")
}
