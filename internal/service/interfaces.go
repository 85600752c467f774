// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/chargemap/internal/model"
)

// RuleStore is the persistence contract for matching rules.
type RuleStore interface {
	// ListRules returns the enabled custom rules of customer and the enabled
	// global rules, each ordered by priority ascending then id ascending.
	ListRules(ctx context.Context, customer string) (custom, global []model.Rule, err error)
	QueryRules(ctx context.Context, customer string, filter model.RuleFilter) ([]model.Rule, error)
	GetRule(ctx context.Context, id int64) (*model.Rule, error)
	CreateRule(ctx context.Context, rule *model.Rule) (int64, error)
	UpdateRule(ctx context.Context, id int64, changes model.RuleChanges) error
	UpdatePriority(ctx context.Context, id int64, priority int) error
	ReorderRules(ctx context.Context, scope model.RuleScope, customer string, ids []int64) error
	SetRuleEnabled(ctx context.Context, id int64, enabled bool) error
	ApproveRules(ctx context.Context, ids []int64, approver string) error
}

// ChargeStore is the persistence contract for charges and apply history.
type ChargeStore interface {
	QueryCharges(ctx context.Context, customer string, filter model.ChargeFilter) ([]model.Charge, error)
	CountCharges(ctx context.Context, customer string, state model.ChargeState) (int, error)
	SaveCharges(ctx context.Context, charges []model.Charge) error
	UpdateChargeClassifications(ctx context.Context, updates []model.ClassificationUpdate) ([]model.UpdateOutcome, error)
	RecordApplyRun(ctx context.Context, result *model.ApplyResult) error
	ListApplyRuns(ctx context.Context, customer string, limit int) ([]model.ApplyRun, error)
}

// CustomerStore is the persistence contract for customers.
type CustomerStore interface {
	CreateCustomer(ctx context.Context, customer *model.Customer) error
	GetCustomer(ctx context.Context, name string) (*model.Customer, error)
	ListCustomers(ctx context.Context) ([]model.Customer, error)
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	RuleStore
	ChargeStore
	CustomerStore

	Migrate(ctx context.Context) error
	Close() error
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
