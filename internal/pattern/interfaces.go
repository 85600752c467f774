// Package pattern evaluates charges against matching rules and validates rule definitions.
package pattern

import (
	"github.com/Veraticus/chargemap/internal/model"
)

// RuleMatcher decides whether a charge satisfies a rule.
type RuleMatcher interface {
	// Matches reports whether every condition of rule holds for charge.
	Matches(charge model.Charge, rule model.Rule) bool
}

// RuleValidator checks rule definitions before they are persisted or evaluated.
type RuleValidator interface {
	ValidateRule(rule model.Rule) error
}
