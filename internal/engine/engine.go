// Package engine resolves charges against matching rules and applies
// reclassifications to the charge store.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/chargemap/internal/common"
	"github.com/Veraticus/chargemap/internal/model"
	"github.com/Veraticus/chargemap/internal/pattern"
	"github.com/Veraticus/chargemap/internal/service"
	"github.com/google/uuid"
)

// Engine runs previews and applies against a Store.
type Engine struct {
	*Resolver

	store     Store
	observer  Observer
	now       func() time.Time
	newRunID  func() string
	retry     service.RetryOptions
	chunkSize int
	pageSize  int
}

// Config holds configuration options for the engine.
type Config struct {
	Retry     service.RetryOptions
	ChunkSize int
	PageSize  int
}

// DefaultConfig returns the default configuration. Chunks are written once,
// without retry.
func DefaultConfig() Config {
	return Config{
		ChunkSize: 500,
		PageSize:  100,
		Retry: service.RetryOptions{
			MaxAttempts:  1,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Multiplier:   2.0,
		},
	}
}

// New creates an engine with the default configuration.
func New(store Store, matcher pattern.RuleMatcher) *Engine {
	return NewWithConfig(store, matcher, DefaultConfig())
}

// NewWithConfig creates an engine with custom configuration.
func NewWithConfig(store Store, matcher pattern.RuleMatcher, config Config) *Engine {
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultConfig().ChunkSize
	}
	return &Engine{
		Resolver:  NewResolver(matcher),
		store:     store,
		observer:  noopObserver{},
		now:       time.Now,
		newRunID:  uuid.NewString,
		retry:     config.Retry,
		chunkSize: config.ChunkSize,
		pageSize:  config.PageSize,
	}
}

// SetObserver registers an observer for engine outcomes.
func (e *Engine) SetObserver(o Observer) {
	if o == nil {
		o = noopObserver{}
	}
	e.observer = o
}

// ApplyOptions tunes a single apply run.
type ApplyOptions struct {
	// OnProgress is called after every chunk with the number of writes attempted so far.
	OnProgress   func(done, total int)
	CustomerName string
}

// Apply writes the changes PreviewApply reports for rule, in chunks. Charges
// that fail to update are reported in the result rather than as an error;
// an error means nothing was attempted. Applying the same rule twice changes
// nothing the second time.
func (e *Engine) Apply(ctx context.Context, rule model.Rule, charges []model.Charge, opts ApplyOptions) (*model.ApplyResult, error) {
	changes, err := e.PreviewApply(rule, charges)
	if err != nil {
		return nil, err
	}

	customer := opts.CustomerName
	if customer == "" {
		customer = rule.CustomerName
	}

	result := e.newResult(customer, rule.ID, len(charges), len(changes))
	e.write(ctx, result, changes, opts.OnProgress)
	e.finish(ctx, result)

	slog.Info("Applied rule", runFields(result).Attrs()...)

	return result, nil
}

func runFields(result *model.ApplyResult) common.Fields {
	return common.Fields{
		"run_id":     result.RunID,
		"rule_id":    result.RuleID,
		"customer":   result.CustomerName,
		"candidates": result.Candidates,
		"succeeded":  len(result.Succeeded),
		"failed":     len(result.Failed),
	}
}

func (e *Engine) newResult(customer string, ruleID int64, candidates, changes int) *model.ApplyResult {
	return &model.ApplyResult{
		RunID:        e.newRunID(),
		CustomerName: customer,
		RuleID:       ruleID,
		Candidates:   candidates,
		Unchanged:    candidates - changes,
		Succeeded:    []string{},
		Failed:       []model.ChargeFailure{},
		StartedAt:    e.now(),
	}
}

// write persists changes chunk by chunk. A chunk that fails as a whole is
// rolled back by the store and every charge in it is reported failed; later
// chunks are still attempted. Cancellation fails whatever was not yet written.
func (e *Engine) write(ctx context.Context, result *model.ApplyResult, changes []model.ChargeChange, onProgress func(done, total int)) {
	total := len(changes)

	for start := 0; start < total; start += e.chunkSize {
		end := min(start+e.chunkSize, total)
		chunk := changes[start:end]

		if err := ctx.Err(); err != nil {
			for _, change := range changes[start:] {
				result.Failed = append(result.Failed, model.ChargeFailure{
					ChargeID: change.Charge.ID,
					Reason:   fmt.Sprintf("not attempted: %v", err),
				})
			}
			slog.Warn("Apply canceled", "run_id", result.RunID, "remaining", total-start)
			break
		}

		updates := make([]model.ClassificationUpdate, len(chunk))
		for i, change := range chunk {
			updates[i] = model.ClassificationUpdate{
				ChargeID:          change.Charge.ID,
				OldClassification: change.OldClassification,
				NewClassification: change.NewClassification,
				RuleID:            change.RuleID,
				RunID:             result.RunID,
			}
		}

		var outcomes []model.UpdateOutcome
		err := common.WithRetry(ctx, func() error {
			var updateErr error
			outcomes, updateErr = e.store.UpdateChargeClassifications(ctx, updates)
			return updateErr
		}, e.retry)

		if err != nil {
			reason := common.UserMessage(err)
			for _, u := range updates {
				result.Failed = append(result.Failed, model.ChargeFailure{ChargeID: u.ChargeID, Reason: reason})
			}
			slog.Warn("Chunk failed",
				"run_id", result.RunID,
				"chunk_start", start,
				"chunk_size", len(chunk),
				"error", err)
		} else {
			for _, outcome := range outcomes {
				if outcome.Err != nil {
					result.Failed = append(result.Failed, model.ChargeFailure{ChargeID: outcome.ChargeID, Reason: outcome.Err.Error()})
					continue
				}
				result.Succeeded = append(result.Succeeded, outcome.ChargeID)
			}
		}

		if onProgress != nil {
			onProgress(end, total)
		}
	}
}

// finish stamps the result, records the run, and notifies the observer.
// A failure to record the audit row is logged; the writes already happened.
func (e *Engine) finish(ctx context.Context, result *model.ApplyResult) {
	result.FinishedAt = e.now()

	if err := e.store.RecordApplyRun(context.WithoutCancel(ctx), result); err != nil {
		slog.Error("Failed to record apply run", "run_id", result.RunID, "error", err)
	}

	e.observer.ObserveApply(result)
}
