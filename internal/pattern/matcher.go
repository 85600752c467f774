package pattern

import (
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/Veraticus/chargemap/internal/common"
	"github.com/Veraticus/chargemap/internal/model"
)

// Matcher implements RuleMatcher. It is safe for concurrent use.
type Matcher struct {
	compiledRegex map[string]*regexp.Regexp
	mu            sync.RWMutex
}

// NewMatcher creates a matcher with an empty regex cache.
func NewMatcher() *Matcher {
	return &Matcher{
		compiledRegex: make(map[string]*regexp.Regexp),
	}
}

// Matches reports whether charge satisfies every condition of rule.
// A rule without conditions matches nothing.
func (m *Matcher) Matches(charge model.Charge, rule model.Rule) bool {
	if len(rule.Conditions) == 0 {
		return false
	}

	for _, cond := range rule.Conditions {
		if !m.MatchesCondition(charge, cond) {
			return false
		}
	}

	return true
}

// MatchesCondition evaluates a single condition. A charge that does not
// carry the field never matches.
func (m *Matcher) MatchesCondition(charge model.Charge, cond model.MatchCondition) bool {
	value, ok := charge.Field(cond.Field)
	if !ok || cond.Value == "" {
		return false
	}

	switch cond.Operator {
	case model.OpExactlyMatches:
		return strings.EqualFold(value, cond.Value)
	case model.OpContains:
		return strings.Contains(strings.ToLower(value), strings.ToLower(cond.Value))
	case model.OpStartsWith:
		return strings.HasPrefix(strings.ToLower(value), strings.ToLower(cond.Value))
	case model.OpEndsWith:
		return strings.HasSuffix(strings.ToLower(value), strings.ToLower(cond.Value))
	case model.OpRegex:
		re, err := m.regex(cond.Value)
		if err != nil {
			slog.Warn("Skipping condition with invalid regex", "pattern", cond.Value, "error", err)
			return false
		}
		return re.MatchString(value)
	}

	return false
}

func (m *Matcher) regex(pattern string) (*regexp.Regexp, error) {
	m.mu.RLock()
	re, ok := m.compiledRegex[pattern]
	m.mu.RUnlock()
	if ok {
		return re, nil
	}

	re, err := common.CompileInsensitive(pattern)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.compiledRegex[pattern] = re
	m.mu.Unlock()

	return re, nil
}
