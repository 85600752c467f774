// Package storage provides the SQLite persistence layer for rules, charges, and customers.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/chargemap/internal/common"
	"github.com/Veraticus/chargemap/internal/model"
)

// Validation errors.
var (
	ErrNilContext    = errors.New("context cannot be nil")
	ErrEmptyString   = errors.New("string parameter cannot be empty")
	ErrNilParameter  = errors.New("parameter cannot be nil")
	ErrInvalidCharge = errors.New("invalid charge")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateCharge checks the columns the charges table requires.
func validateCharge(charge *model.Charge) error {
	if charge == nil {
		return fmt.Errorf("%w: charge", ErrNilParameter)
	}
	if charge.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidCharge)
	}
	if charge.CustomerName == "" {
		return fmt.Errorf("%w: charge %s missing customer", ErrInvalidCharge, charge.ID)
	}
	if charge.ChargeName == "" {
		return fmt.Errorf("%w: charge %s missing charge name", ErrInvalidCharge, charge.ID)
	}
	return nil
}

// validateCustomer checks a customer before it is inserted.
func validateCustomer(customer *model.Customer) error {
	if customer == nil {
		return fmt.Errorf("%w: customer", ErrNilParameter)
	}
	if strings.TrimSpace(customer.Name) == "" {
		return common.NewValidationError("name", "customer name is required")
	}
	return nil
}
