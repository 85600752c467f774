package common

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	tests := []struct {
		err      error
		sentinel error
		name     string
	}{
		{name: "validation", err: NewValidationError("conditions[0].value", "empty"), sentinel: ErrValidation},
		{name: "not found", err: NewNotFoundError("rule", 42), sentinel: ErrNotFound},
		{name: "conflict", err: &ConflictError{Reason: "priority 5 taken", RuleID: 1, ConflictingRuleID: 2}, sentinel: ErrConflict},
		{name: "store", err: &StoreUnavailableError{Op: "query rules", Err: errors.New("disk I/O error")}, sentinel: ErrStoreUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("operation failed: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.sentinel)
		})
	}
}

func TestConflictErrorNamesBothRules(t *testing.T) {
	err := &ConflictError{Reason: "priority 5 already used", RuleID: 11, ConflictingRuleID: 4}
	assert.Contains(t, err.Error(), "rule 11")
	assert.Contains(t, err.Error(), "rule 4")

	var conflict *ConflictError
	require.ErrorAs(t, fmt.Errorf("wrap: %w", err), &conflict)
	assert.Equal(t, int64(4), conflict.ConflictingRuleID)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&StoreUnavailableError{Op: "write", Err: errors.New("busy"), Transient: true}))
	assert.False(t, IsRetryable(&StoreUnavailableError{Op: "write", Err: errors.New("readonly")}))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(NewValidationError("value", "empty")))
	assert.True(t, IsRetryable(&RetryableError{Err: errors.New("x"), Retryable: true}))
}

func TestUserMessage(t *testing.T) {
	busy := &StoreUnavailableError{Op: "write", Err: errors.New("database is locked"), Transient: true}
	assert.NotContains(t, UserMessage(busy), "database is locked")
	assert.Contains(t, UserMessage(busy), "retry")

	down := &StoreUnavailableError{Op: "write", Err: errors.New("unable to open database file")}
	assert.Contains(t, UserMessage(down), "retry later")

	assert.Equal(t, "please pick a customer", UserMessage(NewUserError("please pick a customer", errors.New("empty"))))
	assert.Equal(t, `invalid value: empty`, UserMessage(NewValidationError("value", "empty")))
}
