// Package ruleset reads and writes YAML bundles of customers, rules, and
// charges, and seeds a store from them.
package ruleset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/Veraticus/chargemap/internal/common"
	"github.com/Veraticus/chargemap/internal/model"
	"github.com/Veraticus/chargemap/internal/pattern"
	"gopkg.in/yaml.v3"
)

const dateLayout = "2006-01-02"

// Bundle is the on-disk YAML document.
type Bundle struct {
	Customers []Customer        `yaml:"customers,omitempty"`
	Rules     []model.RuleDraft `yaml:"rules,omitempty"`
	Charges   []Charge          `yaml:"charges,omitempty"`
}

// Customer is a customer entry in a bundle.
type Customer struct {
	Name           string `yaml:"name"`
	OrganizationID string `yaml:"organization_id,omitempty"`
}

// Charge is a charge entry in a bundle. StatementDate uses YYYY-MM-DD.
type Charge struct {
	ID                 string `yaml:"id"`
	Customer           string `yaml:"customer"`
	StatementID        string `yaml:"statement_id,omitempty"`
	StatementDate      string `yaml:"statement_date,omitempty"`
	ProviderName       string `yaml:"provider_name,omitempty"`
	AccountNumber      string `yaml:"account_number,omitempty"`
	MeterNumber        string `yaml:"meter_number,omitempty"`
	ChargeName         string `yaml:"charge_name"`
	UsageUnit          string `yaml:"usage_unit,omitempty"`
	ServiceType        string `yaml:"service_type,omitempty"`
	Measurement        string `yaml:"measurement,omitempty"`
	Classification     string `yaml:"classification,omitempty"`
	ContributionStatus string `yaml:"contribution_status,omitempty"`
}

// Model converts the entry into a charge.
func (c Charge) Model() (model.Charge, error) {
	out := model.Charge{
		ID:                 c.ID,
		CustomerName:       c.Customer,
		StatementID:        c.StatementID,
		ProviderName:       c.ProviderName,
		AccountNumber:      c.AccountNumber,
		MeterNumber:        c.MeterNumber,
		ChargeName:         c.ChargeName,
		UsageUnit:          c.UsageUnit,
		ServiceType:        c.ServiceType,
		Measurement:        c.Measurement,
		Classification:     c.Classification,
		ContributionStatus: c.ContributionStatus,
	}
	if c.StatementDate != "" {
		date, err := time.Parse(dateLayout, c.StatementDate)
		if err != nil {
			return model.Charge{}, common.NewValidationError("statement_date", "charge %s: want YYYY-MM-DD, got %q", c.ID, c.StatementDate)
		}
		out.StatementDate = date
	}
	return out, nil
}

// Store is what Seed and Export need from persistence.
type Store interface {
	CreateCustomer(ctx context.Context, customer *model.Customer) error
	GetCustomer(ctx context.Context, name string) (*model.Customer, error)
	ListCustomers(ctx context.Context) ([]model.Customer, error)
	CreateRule(ctx context.Context, rule *model.Rule) (int64, error)
	QueryRules(ctx context.Context, customer string, filter model.RuleFilter) ([]model.Rule, error)
	SetRuleEnabled(ctx context.Context, id int64, enabled bool) error
	SaveCharges(ctx context.Context, charges []model.Charge) error
}

// SeedResult counts what Seed wrote.
type SeedResult struct {
	CustomersCreated int
	CustomersExisted int
	RulesCreated     int
	RulesDisabled    int
	ChargesSaved     int
}

// Load decodes a bundle, rejecting unknown keys, and validates it.
func Load(r io.Reader) (*Bundle, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var b Bundle
	if err := dec.Decode(&b); err != nil {
		if errors.Is(err, io.EOF) {
			return &b, nil
		}
		return nil, fmt.Errorf("failed to parse rule bundle: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// LoadFile reads a bundle from path.
func LoadFile(path string) (*Bundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rule bundle: %w", err)
	}
	defer func() { _ = f.Close() }()

	return Load(f)
}

// Validate checks every rule and charge without touching a store. Rules with
// no scope default to custom.
func (b *Bundle) Validate() error {
	for i := range b.Rules {
		if b.Rules[i].Scope == "" {
			b.Rules[i].Scope = model.ScopeCustom
		}
		if err := pattern.ValidateRule(b.Rules[i].Rule()); err != nil {
			return fmt.Errorf("rule %d (%s): %w", i+1, ruleLabel(b.Rules[i]), err)
		}
	}
	for i, c := range b.Charges {
		if strings.TrimSpace(c.ID) == "" || strings.TrimSpace(c.Customer) == "" || strings.TrimSpace(c.ChargeName) == "" {
			return common.NewValidationError("charges", "charge %d needs id, customer, and charge_name", i+1)
		}
		if _, err := c.Model(); err != nil {
			return err
		}
	}
	return nil
}

// Seed writes the bundle into store. Existing customers are kept; rules are
// always created, so reseeding the same bundle reports priority conflicts.
// Rules exported as disabled are created and then disabled.
//
// Priority collisions and unknown customers are caught before anything is
// written. The writes themselves are not one transaction: a store failure
// part way through leaves the rows written so far in place.
func Seed(ctx context.Context, store Store, b *Bundle) (SeedResult, error) {
	var result SeedResult

	if err := preflight(ctx, store, b); err != nil {
		return result, err
	}

	for _, c := range b.Customers {
		_, err := store.GetCustomer(ctx, c.Name)
		switch {
		case err == nil:
			result.CustomersExisted++
			continue
		case !errors.Is(err, common.ErrNotFound):
			return result, fmt.Errorf("failed to look up customer %q: %w", c.Name, err)
		}

		if err := store.CreateCustomer(ctx, &model.Customer{Name: c.Name, OrganizationID: c.OrganizationID}); err != nil {
			return result, fmt.Errorf("failed to create customer %q: %w", c.Name, err)
		}
		result.CustomersCreated++
	}

	for _, draft := range b.Rules {
		rule := draft.Rule()
		id, err := store.CreateRule(ctx, &rule)
		if err != nil {
			return result, fmt.Errorf("failed to create rule %s: %w", ruleLabel(draft), err)
		}
		slog.Debug("Seeded rule", "rule_id", id, "scope", rule.Scope, "customer", rule.CustomerName, "priority", rule.Priority)
		result.RulesCreated++

		if draft.Disabled() {
			if err := store.SetRuleEnabled(ctx, id, false); err != nil {
				return result, fmt.Errorf("failed to disable rule %s: %w", ruleLabel(draft), err)
			}
			result.RulesDisabled++
		}
	}

	if len(b.Charges) > 0 {
		charges := make([]model.Charge, 0, len(b.Charges))
		for _, c := range b.Charges {
			charge, err := c.Model()
			if err != nil {
				return result, err
			}
			charges = append(charges, charge)
		}
		if err := store.SaveCharges(ctx, charges); err != nil {
			return result, fmt.Errorf("failed to save charges: %w", err)
		}
		result.ChargesSaved = len(charges)
	}

	slog.Info("Seeded store",
		"customers_created", result.CustomersCreated,
		"rules_created", result.RulesCreated,
		"rules_disabled", result.RulesDisabled,
		"charges_saved", result.ChargesSaved)
	return result, nil
}

// Export builds a bundle of rules, enabled or not. With a customer it holds
// that customer's custom rules plus every global rule; without one it holds
// every customer and every rule.
func Export(ctx context.Context, store Store, customer string) (*Bundle, error) {
	var b Bundle

	if customer != "" {
		c, err := store.GetCustomer(ctx, customer)
		if err != nil {
			return nil, err
		}
		b.Customers = []Customer{{Name: c.Name, OrganizationID: c.OrganizationID}}
	} else {
		customers, err := store.ListCustomers(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list customers: %w", err)
		}
		for _, c := range customers {
			b.Customers = append(b.Customers, Customer{Name: c.Name, OrganizationID: c.OrganizationID})
		}
	}

	rules, err := store.QueryRules(ctx, customer, model.RuleFilter{IncludeDisabled: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	for _, r := range rules {
		draft := model.RuleDraft{
			Name:               r.Name,
			CustomerName:       r.CustomerName,
			Classification:     r.Classification,
			ChargeGroupHeading: r.ChargeGroupHeading,
			Scope:              r.Scope,
			Conditions:         r.Conditions,
			Priority:           r.Priority,
		}
		if !r.Enabled {
			off := false
			draft.Enabled = &off
		}
		b.Rules = append(b.Rules, draft)
	}
	return &b, nil
}

type priorityKey struct {
	scope    model.RuleScope
	customer string
	priority int
}

// preflight rejects a bundle whose rules would collide on priority, with the
// store or with each other, or whose rules and charges name a customer that
// neither the store nor the bundle knows.
func preflight(ctx context.Context, store Store, b *Bundle) error {
	known := make(map[string]bool)
	existing, err := store.ListCustomers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list customers: %w", err)
	}
	for _, c := range existing {
		known[c.Name] = true
	}
	for _, c := range b.Customers {
		known[c.Name] = true
	}

	rules, err := store.QueryRules(ctx, "", model.RuleFilter{IncludeDisabled: true})
	if err != nil {
		return fmt.Errorf("failed to list rules: %w", err)
	}
	taken := make(map[priorityKey]int64, len(rules))
	for _, r := range rules {
		taken[priorityKey{r.Scope, r.CustomerName, r.Priority}] = r.ID
	}

	for _, draft := range b.Rules {
		rule := draft.Rule()
		if rule.Scope == model.ScopeCustom && !known[rule.CustomerName] {
			return &common.NotFoundError{Kind: "customer", ID: rule.CustomerName}
		}
		if rule.Priority == 0 {
			continue
		}
		key := priorityKey{rule.Scope, rule.CustomerName, rule.Priority}
		if holder, ok := taken[key]; ok {
			return &common.ConflictError{
				Reason:            fmt.Sprintf("rule %s: priority %d is already used in %s scope", ruleLabel(draft), rule.Priority, rule.Scope),
				ConflictingRuleID: holder,
			}
		}
		taken[key] = 0
	}

	for _, c := range b.Charges {
		if !known[c.Customer] {
			return &common.NotFoundError{Kind: "customer", ID: c.Customer}
		}
	}
	return nil
}

// Write encodes b as YAML.
func Write(w io.Writer, b *Bundle) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(b); err != nil {
		return fmt.Errorf("failed to encode rule bundle: %w", err)
	}
	return enc.Close()
}

func ruleLabel(d model.RuleDraft) string {
	if d.Name != "" {
		return fmt.Sprintf("%q", d.Name)
	}
	return fmt.Sprintf("-> %s", d.Classification)
}
