package pattern

import (
	"fmt"
	"strings"

	"github.com/Veraticus/chargemap/internal/common"
	"github.com/Veraticus/chargemap/internal/model"
)

// Validator implements RuleValidator.
type Validator struct{}

// NewValidator creates a new rule validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateRule checks scope, ownership, target, priority, and every condition.
func (v *Validator) ValidateRule(rule model.Rule) error {
	return ValidateRule(rule)
}

// ValidateRule checks a rule definition.
func ValidateRule(rule model.Rule) error {
	if !rule.Scope.Valid() {
		return common.NewValidationError("scope", "must be %q or %q, got %q", model.ScopeCustom, model.ScopeGlobal, rule.Scope)
	}

	switch rule.Scope {
	case model.ScopeCustom:
		if strings.TrimSpace(rule.CustomerName) == "" {
			return common.NewValidationError("customer_name", "custom rules need a customer")
		}
	case model.ScopeGlobal:
		if rule.CustomerName != "" {
			return common.NewValidationError("customer_name", "global rules cannot belong to a customer")
		}
	}

	if strings.TrimSpace(rule.Classification) == "" {
		return common.NewValidationError("classification", "is required")
	}

	if rule.Priority < 0 {
		return common.NewValidationError("priority", "must not be negative, got %d", rule.Priority)
	}

	return ValidateConditions(rule.Conditions)
}

// ValidateConditions checks that there is at least one condition and that each is well formed.
func ValidateConditions(conditions []model.MatchCondition) error {
	if len(conditions) == 0 {
		return common.NewValidationError("conditions", "at least one condition is required")
	}

	for i, cond := range conditions {
		if err := validateCondition(fmt.Sprintf("conditions[%d]", i), cond); err != nil {
			return err
		}
	}
	return nil
}

// ValidateCondition checks a single condition, including regex compilability.
func ValidateCondition(cond model.MatchCondition) error {
	return validateCondition("condition", cond)
}

func validateCondition(prefix string, cond model.MatchCondition) error {
	if !cond.Field.Valid() {
		return common.NewValidationError(prefix+".field", "unknown field %q", cond.Field)
	}
	if !cond.Operator.Valid() {
		return common.NewValidationError(prefix+".operator", "unknown operator %q", cond.Operator)
	}
	if cond.Value == "" {
		return common.NewValidationError(prefix+".value", "must not be empty")
	}
	if cond.Operator == model.OpRegex {
		if _, err := common.CompileInsensitive(cond.Value); err != nil {
			return common.NewValidationError(prefix+".value", "regex does not compile: %v", err)
		}
	}
	return nil
}
