// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Common application errors. The typed errors below match these with errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrValidation       = errors.New("validation failed")
	ErrStoreUnavailable = errors.New("store unavailable")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ValidationError reports malformed input and names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError creates a ValidationError for field.
func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing rule, customer, or charge.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// Is matches ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError creates a NotFoundError.
func NewNotFoundError(kind string, id any) error {
	return &NotFoundError{Kind: kind, ID: fmt.Sprint(id)}
}

// ConflictError reports a priority collision or a stale write, with both rule ids.
type ConflictError struct {
	Reason            string
	RuleID            int64
	ConflictingRuleID int64
}

func (e *ConflictError) Error() string {
	switch {
	case e.RuleID == 0 && e.ConflictingRuleID == 0:
		return fmt.Sprintf("conflict: %s", e.Reason)
	case e.ConflictingRuleID == 0:
		return fmt.Sprintf("conflict on rule %d: %s", e.RuleID, e.Reason)
	case e.RuleID == 0:
		return fmt.Sprintf("conflict: %s (conflicts with rule %d)", e.Reason, e.ConflictingRuleID)
	}
	return fmt.Sprintf("conflict: %s (rule %d conflicts with rule %d)", e.Reason, e.RuleID, e.ConflictingRuleID)
}

// Is matches ErrConflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// StoreUnavailableError reports a failed warehouse read or write.
// Transient failures (lock contention, busy database) are safe to retry.
type StoreUnavailableError struct {
	Err       error
	Op        string
	Transient bool
}

func (e *StoreUnavailableError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("store unavailable during %s (%s): %v", e.Op, kind, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}

// Is matches ErrStoreUnavailable.
func (e *StoreUnavailableError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// UserMessage returns the message to show an operator for err. Store failures
// get a generic retry-safe message; everything else is shown as is.
func UserMessage(err error) string {
	var userErr *UserError
	if errors.As(err, &userErr) {
		return userErr.UserMessage
	}
	if errors.Is(err, ErrStoreUnavailable) {
		if IsRetryable(err) {
			return "the warehouse is busy; nothing was lost, please retry"
		}
		return "the warehouse could not be reached; nothing was lost, please retry later"
	}
	return err.Error()
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var storeErr *StoreUnavailableError
	if errors.As(err, &storeErr) {
		return storeErr.Transient
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}
