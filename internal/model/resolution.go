package model

import (
	"fmt"
	"time"
)

// Resolution is the outcome of resolving one charge against the rule store.
type Resolution struct {
	MatchedRuleID          *int64    `json:"matched_rule_id,omitempty"`
	ChargeID               string    `json:"charge_id"`
	PreviousClassification string    `json:"previous_classification"`
	Classification         string    `json:"classification"`
	MatchedScope           RuleScope `json:"matched_scope,omitempty"`
	Considered             []int64   `json:"considered"`
}

// Matched reports whether any rule claimed the charge.
func (r Resolution) Matched() bool {
	return r.MatchedRuleID != nil
}

// Changed reports whether resolution would alter the stored classification.
func (r Resolution) Changed() bool {
	return r.Classification != r.PreviousClassification
}

// ChargeChange is a previewed classification change for one charge.
type ChargeChange struct {
	OldClassification string `json:"old_classification"`
	NewClassification string `json:"new_classification"`
	Charge            Charge `json:"charge"`
	RuleID            int64  `json:"rule_id"`
}

// ChargeFailure records why a charge could not be updated.
type ChargeFailure struct {
	ChargeID string `json:"charge_id"`
	Reason   string `json:"reason"`
}

// ApplyResult reports what an apply run changed. Failures are data, not errors.
type ApplyResult struct {
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
	RunID        string          `json:"run_id"`
	CustomerName string          `json:"customer_name"`
	Succeeded    []string        `json:"succeeded"`
	Failed       []ChargeFailure `json:"failed"`
	RuleID       int64           `json:"rule_id,omitempty"`
	Candidates   int             `json:"candidates"`
	Unchanged    int             `json:"unchanged"`
}

// Attempted returns how many writes the run tried.
func (r *ApplyResult) Attempted() int {
	return len(r.Succeeded) + len(r.Failed)
}

// Summary renders a one-line operator summary.
func (r *ApplyResult) Summary() string {
	if len(r.Failed) == 0 {
		return fmt.Sprintf("%d of %d charges updated", len(r.Succeeded), r.Attempted())
	}
	return fmt.Sprintf("%d of %d charges updated, %d failed", len(r.Succeeded), r.Attempted(), len(r.Failed))
}

// ApplyRun is the audit record of a finished apply run.
type ApplyRun struct {
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	ID           string    `json:"id"`
	CustomerName string    `json:"customer_name"`
	RuleID       int64     `json:"rule_id,omitempty"`
	Succeeded    int       `json:"succeeded"`
	Failed       int       `json:"failed"`
	Unchanged    int       `json:"unchanged"`
}
