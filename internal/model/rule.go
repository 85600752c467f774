// Package model defines the core data structures for the chargemap application.
package model

import (
	"time"
)

// RuleScope identifies whether a rule belongs to one customer or to everyone.
type RuleScope string

// Rule scopes.
const (
	ScopeCustom RuleScope = "custom"
	ScopeGlobal RuleScope = "global"
)

// Valid reports whether s is a known scope.
func (s RuleScope) Valid() bool {
	return s == ScopeCustom || s == ScopeGlobal
}

// Field names a charge attribute a condition can test.
type Field string

// Matchable charge fields.
const (
	FieldChargeName    Field = "charge_name"
	FieldAccountNumber Field = "account_number"
	FieldMeterNumber   Field = "meter_number"
	FieldProviderName  Field = "provider_name"
	FieldUsageUnit     Field = "usage_unit"
	FieldServiceType   Field = "service_type"
	FieldMeasurement   Field = "measurement"
)

// Fields lists every matchable field in display order.
var Fields = []Field{
	FieldChargeName,
	FieldAccountNumber,
	FieldMeterNumber,
	FieldProviderName,
	FieldUsageUnit,
	FieldServiceType,
	FieldMeasurement,
}

// Valid reports whether f is a known field.
func (f Field) Valid() bool {
	for _, known := range Fields {
		if f == known {
			return true
		}
	}
	return false
}

// Operator is the comparison a condition applies to a field.
type Operator string

// Condition operators. All text comparisons are case-insensitive.
const (
	OpExactlyMatches Operator = "exactly_matches"
	OpContains       Operator = "contains"
	OpStartsWith     Operator = "starts_with"
	OpEndsWith       Operator = "ends_with"
	OpRegex          Operator = "regex"
)

// Operators lists every operator in display order.
var Operators = []Operator{
	OpExactlyMatches,
	OpContains,
	OpStartsWith,
	OpEndsWith,
	OpRegex,
}

// Valid reports whether o is a known operator.
func (o Operator) Valid() bool {
	for _, known := range Operators {
		if o == known {
			return true
		}
	}
	return false
}

// MatchCondition is one clause of a rule. All clauses of a rule must hold.
type MatchCondition struct {
	Field    Field    `json:"field" yaml:"field"`
	Operator Operator `json:"operator" yaml:"operator"`
	Value    string   `json:"value" yaml:"value"`
}

// Rule maps charges that satisfy every condition to a target classification.
type Rule struct {
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
	ValidatedAt        *time.Time       `json:"validated_at,omitempty"`
	Name               string           `json:"name"`
	CustomerName       string           `json:"customer_name,omitempty"`
	Classification     string           `json:"classification"`
	ChargeGroupHeading string           `json:"charge_group_heading,omitempty"`
	ValidatedBy        string           `json:"validated_by,omitempty"`
	Scope              RuleScope        `json:"scope"`
	Conditions         []MatchCondition `json:"conditions"`
	ID                 int64            `json:"id"`
	Priority           int              `json:"priority"`
	Version            int              `json:"version"`
	Enabled            bool             `json:"enabled"`
	Approved           bool             `json:"approved"`
}

// RuleDraft is the caller-built input for creating or previewing a rule.
// A zero Priority asks the store to assign the next free priority.
type RuleDraft struct {
	Name               string           `json:"name" yaml:"name"`
	CustomerName       string           `json:"customer_name,omitempty" yaml:"customer,omitempty"`
	Classification     string           `json:"classification" yaml:"classification"`
	ChargeGroupHeading string           `json:"charge_group_heading,omitempty" yaml:"charge_group_heading,omitempty"`
	Scope              RuleScope        `json:"scope" yaml:"scope"`
	Conditions         []MatchCondition `json:"conditions" yaml:"conditions"`
	Priority           int              `json:"priority,omitempty" yaml:"priority,omitempty"`
	// Enabled is only carried by exported bundles; nil means enabled.
	Enabled            *bool            `json:"-" yaml:"enabled,omitempty"`
}

// Disabled reports whether the draft describes a soft-disabled rule.
func (d RuleDraft) Disabled() bool {
	return d.Enabled != nil && !*d.Enabled
}

// Rule converts the draft into a not yet persisted rule, enabled unless the
// draft says otherwise.
func (d RuleDraft) Rule() Rule {
	conditions := make([]MatchCondition, len(d.Conditions))
	copy(conditions, d.Conditions)

	customer := d.CustomerName
	if d.Scope == ScopeGlobal {
		customer = ""
	}

	return Rule{
		Name:               d.Name,
		CustomerName:       customer,
		Classification:     d.Classification,
		ChargeGroupHeading: d.ChargeGroupHeading,
		Scope:              d.Scope,
		Conditions:         conditions,
		Priority:           d.Priority,
		Enabled:            !d.Disabled(),
	}
}

// RuleChanges is a partial update. Nil fields are left unchanged.
type RuleChanges struct {
	Name               *string          `json:"name,omitempty"`
	Classification     *string          `json:"classification,omitempty"`
	ChargeGroupHeading *string          `json:"charge_group_heading,omitempty"`
	Priority           *int             `json:"priority,omitempty"`
	ExpectedVersion    *int             `json:"expected_version,omitempty"`
	Conditions         []MatchCondition `json:"conditions,omitempty"`
}

// IsEmpty reports whether the update changes nothing.
func (c RuleChanges) IsEmpty() bool {
	return c.Name == nil && c.Classification == nil && c.ChargeGroupHeading == nil &&
		c.Priority == nil && c.Conditions == nil
}

// Apply returns a copy of rule with the changes applied.
func (c RuleChanges) Apply(rule Rule) Rule {
	if c.Name != nil {
		rule.Name = *c.Name
	}
	if c.Classification != nil {
		rule.Classification = *c.Classification
	}
	if c.ChargeGroupHeading != nil {
		rule.ChargeGroupHeading = *c.ChargeGroupHeading
	}
	if c.Priority != nil {
		rule.Priority = *c.Priority
	}
	if c.Conditions != nil {
		rule.Conditions = make([]MatchCondition, len(c.Conditions))
		copy(rule.Conditions, c.Conditions)
	}
	return rule
}

// RuleFilter narrows an administrative rule listing.
type RuleFilter struct {
	Scope           RuleScope
	Classification  string
	Provider        string
	Value           string
	IncludeDisabled bool
}
