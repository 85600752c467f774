package model

import (
	"fmt"
	"strings"
	"time"
)

// UncategorizedCharge is the classification of a charge no rule has claimed.
const UncategorizedCharge = "ch.uncategorized_charge"

// Contribution statuses reported by the warehouse.
const (
	ContributionContributing    = "contributing"
	ContributionNonContributing = "non_contributing"
)

// Charge is a billed utility line item.
type Charge struct {
	StatementDate      time.Time `json:"statement_date"`
	ID                 string    `json:"id"`
	CustomerName       string    `json:"customer_name"`
	StatementID        string    `json:"statement_id"`
	ProviderName       string    `json:"provider_name,omitempty"`
	AccountNumber      string    `json:"account_number,omitempty"`
	MeterNumber        string    `json:"meter_number,omitempty"`
	ChargeName         string    `json:"charge_name"`
	UsageUnit          string    `json:"usage_unit,omitempty"`
	ServiceType        string    `json:"service_type,omitempty"`
	Measurement        string    `json:"measurement,omitempty"`
	Classification     string    `json:"classification"`
	ContributionStatus string    `json:"contribution_status,omitempty"`
}

// Field returns the raw value of f and whether the charge carries it at all.
// Blank values count as absent.
func (c Charge) Field(f Field) (string, bool) {
	var value string
	switch f {
	case FieldChargeName:
		value = c.ChargeName
	case FieldAccountNumber:
		value = c.AccountNumber
	case FieldMeterNumber:
		value = c.MeterNumber
	case FieldProviderName:
		value = c.ProviderName
	case FieldUsageUnit:
		value = c.UsageUnit
	case FieldServiceType:
		value = c.ServiceType
	case FieldMeasurement:
		value = c.Measurement
	default:
		return "", false
	}
	if strings.TrimSpace(value) == "" {
		return "", false
	}
	return value, true
}

// CurrentClassification returns the classification, substituting the
// uncategorized sentinel for a blank value.
func (c Charge) CurrentClassification() string {
	if strings.TrimSpace(c.Classification) == "" {
		return UncategorizedCharge
	}
	return c.Classification
}

// IsUncategorized reports whether no rule has claimed the charge.
func (c Charge) IsUncategorized() bool {
	return c.CurrentClassification() == UncategorizedCharge
}

// ChargeState selects charges by classification and approval state.
type ChargeState string

// Charge states.
const (
	StateAll            ChargeState = "all"
	StateUncategorized  ChargeState = "uncategorized"
	StateApprovalNeeded ChargeState = "approval_needed"
	StateApproved       ChargeState = "approved"
)

// ParseChargeState parses a state name. The empty string means StateAll.
func ParseChargeState(s string) (ChargeState, error) {
	switch ChargeState(strings.ToLower(strings.TrimSpace(s))) {
	case "", StateAll:
		return StateAll, nil
	case StateUncategorized:
		return StateUncategorized, nil
	case StateApprovalNeeded:
		return StateApprovalNeeded, nil
	case StateApproved:
		return StateApproved, nil
	}
	return "", fmt.Errorf("unknown charge state %q (valid: all, uncategorized, approval_needed, approved)", s)
}

// ChargeFilter selects a page of charges. Page is 1-based. A PageSize of zero
// or less returns every matching charge.
type ChargeFilter struct {
	State    ChargeState
	Page     int
	PageSize int
}

// ClassificationUpdate is one compare-and-swap write of a charge classification.
type ClassificationUpdate struct {
	ChargeID          string
	OldClassification string
	NewClassification string
	RunID             string
	RuleID            int64
}

// UpdateOutcome reports the result of one ClassificationUpdate. A nil Err is success.
type UpdateOutcome struct {
	Err      error
	ChargeID string
}
