package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/Veraticus/chargemap/internal/common"
	"github.com/Veraticus/chargemap/internal/model"
	"github.com/Veraticus/chargemap/internal/pattern"
)

const ruleColumns = `id, scope, customer_name, priority, name, classification,
	charge_group_heading, enabled, approved, validated_by, validated_at,
	version, created_at, updated_at`

// ListRules returns the enabled custom rules of customer and the enabled
// global rules, each ordered by priority ascending then id ascending.
func (s *SQLiteStorage) ListRules(ctx context.Context, customer string) ([]model.Rule, []model.Rule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, nil, err
	}
	if err := validateString(customer, "customer"); err != nil {
		return nil, nil, err
	}

	if _, err := s.getCustomerTx(ctx, s.db, customer); err != nil {
		return nil, nil, err
	}

	custom, err := s.queryRules(ctx, s.db,
		"WHERE scope = 'custom' AND customer_name = ? AND enabled = 1 ORDER BY priority, id", customer)
	if err != nil {
		return nil, nil, err
	}

	global, err := s.queryRules(ctx, s.db,
		"WHERE scope = 'global' AND enabled = 1 ORDER BY priority, id")
	if err != nil {
		return nil, nil, err
	}

	return custom, global, nil
}

// QueryRules is the administrative listing. With a customer it returns that
// customer's custom rules and the global rules; without one it returns rules
// of every customer. Custom rules sort before global ones.
func (s *SQLiteStorage) QueryRules(ctx context.Context, customer string, filter model.RuleFilter) ([]model.Rule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if filter.Scope != "" && !filter.Scope.Valid() {
		return nil, common.NewValidationError("scope", "must be %q or %q, got %q", model.ScopeCustom, model.ScopeGlobal, filter.Scope)
	}

	var where []string
	var args []any

	if customer != "" {
		if _, err := s.getCustomerTx(ctx, s.db, customer); err != nil {
			return nil, err
		}
		where = append(where, "(scope = 'global' OR customer_name = ?)")
		args = append(args, customer)
	}
	if filter.Scope != "" {
		where = append(where, "scope = ?")
		args = append(args, string(filter.Scope))
	}
	if !filter.IncludeDisabled {
		where = append(where, "enabled = 1")
	}
	if filter.Classification != "" {
		where = append(where, "classification = ?")
		args = append(args, filter.Classification)
	}
	if filter.Provider != "" {
		where = append(where, `EXISTS (SELECT 1 FROM rule_conditions rc
			WHERE rc.rule_id = rules.id AND rc.field = 'provider_name' AND rc.value = ? COLLATE NOCASE)`)
		args = append(args, filter.Provider)
	}
	if filter.Value != "" {
		where = append(where, `EXISTS (SELECT 1 FROM rule_conditions rc
			WHERE rc.rule_id = rules.id AND instr(lower(rc.value), lower(?)) > 0)`)
		args = append(args, filter.Value)
	}

	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}
	clause += " ORDER BY CASE scope WHEN 'custom' THEN 0 ELSE 1 END, customer_name, priority, id"

	return s.queryRules(ctx, s.db, clause, args...)
}

// GetRule retrieves a rule with its conditions.
func (s *SQLiteStorage) GetRule(ctx context.Context, id int64) (*model.Rule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getRuleTx(ctx, s.db, id)
}

// CreateRule validates and inserts a rule. A zero priority is replaced by the
// next free priority in the rule's scope. Nothing is written when validation fails.
func (s *SQLiteStorage) CreateRule(ctx context.Context, rule *model.Rule) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if rule == nil {
		return 0, fmt.Errorf("%w: rule", ErrNilParameter)
	}
	if err := pattern.ValidateRule(*rule); err != nil {
		return 0, err
	}

	err := s.withTx(ctx, "create rule", func(tx *sql.Tx) error {
		if rule.Scope == model.ScopeCustom {
			if _, err := s.getCustomerTx(ctx, tx, rule.CustomerName); err != nil {
				return err
			}
		}

		if rule.Priority == 0 {
			next, err := nextPriority(ctx, tx, rule.Scope, rule.CustomerName)
			if err != nil {
				return err
			}
			rule.Priority = next
		} else if err := checkPriorityFree(ctx, tx, rule.Scope, rule.CustomerName, rule.Priority, 0); err != nil {
			return err
		}

		now := s.now()
		result, err := tx.ExecContext(ctx, `
			INSERT INTO rules (
				scope, customer_name, priority, name, classification,
				charge_group_heading, enabled, approved, version, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, 1, 0, 1, ?, ?)`,
			string(rule.Scope), rule.CustomerName, rule.Priority, rule.Name, rule.Classification,
			nullString(rule.ChargeGroupHeading), now, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert rule: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get rule ID: %w", err)
		}

		if err := insertConditions(ctx, tx, id, rule.Conditions); err != nil {
			return err
		}

		rule.ID = id
		rule.Version = 1
		rule.Enabled = true
		rule.Approved = false
		rule.CreatedAt = now
		rule.UpdatedAt = now
		return nil
	})
	if err != nil {
		return 0, err
	}

	return rule.ID, nil
}

// UpdateRule applies a partial update. When ExpectedVersion is set the
// update only succeeds if the stored version still matches.
// Changing what a rule matches or where it sends charges clears its approval.
func (s *SQLiteStorage) UpdateRule(ctx context.Context, id int64, changes model.RuleChanges) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if changes.Priority != nil && *changes.Priority < 1 {
		return common.NewValidationError("priority", "must be at least 1, got %d", *changes.Priority)
	}

	return s.withTx(ctx, "update rule", func(tx *sql.Tx) error {
		current, err := s.getRuleTx(ctx, tx, id)
		if err != nil {
			return err
		}

		if changes.ExpectedVersion != nil && *changes.ExpectedVersion != current.Version {
			return &common.ConflictError{
				Reason: fmt.Sprintf("rule was modified (stored version %d, expected %d)", current.Version, *changes.ExpectedVersion),
				RuleID: id,
			}
		}

		if changes.IsEmpty() {
			return nil
		}

		updated := changes.Apply(*current)
		if err := pattern.ValidateRule(updated); err != nil {
			return err
		}

		if updated.Priority != current.Priority {
			if err := checkPriorityFree(ctx, tx, updated.Scope, updated.CustomerName, updated.Priority, id); err != nil {
				return err
			}
		}

		approved := current.Approved
		if changes.Conditions != nil || updated.Classification != current.Classification {
			approved = false
		}

		result, err := tx.ExecContext(ctx, `
			UPDATE rules
			SET name = ?, classification = ?, charge_group_heading = ?, priority = ?,
				approved = ?, version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?`,
			updated.Name, updated.Classification, nullString(updated.ChargeGroupHeading), updated.Priority,
			approved, s.now(), id, current.Version,
		)
		if err != nil {
			return fmt.Errorf("failed to update rule: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return &common.ConflictError{Reason: "rule was modified concurrently", RuleID: id}
		}

		if changes.Conditions != nil {
			if _, err := tx.ExecContext(ctx, "DELETE FROM rule_conditions WHERE rule_id = ?", id); err != nil {
				return fmt.Errorf("failed to clear conditions: %w", err)
			}
			if err := insertConditions(ctx, tx, id, updated.Conditions); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdatePriority moves a rule to priority. The priority must be free in the rule's scope.
func (s *SQLiteStorage) UpdatePriority(ctx context.Context, id int64, priority int) error {
	return s.UpdateRule(ctx, id, model.RuleChanges{Priority: &priority})
}

// ReorderRules assigns priorities 1..n to ids in the given order. Rules of
// the same scope that are not listed keep their relative order after them.
func (s *SQLiteStorage) ReorderRules(ctx context.Context, scope model.RuleScope, customer string, ids []int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if !scope.Valid() {
		return common.NewValidationError("scope", "must be %q or %q, got %q", model.ScopeCustom, model.ScopeGlobal, scope)
	}
	if len(ids) == 0 {
		return common.NewValidationError("ids", "at least one rule id is required")
	}
	if scope == model.ScopeGlobal {
		customer = ""
	} else if err := validateString(customer, "customer"); err != nil {
		return common.NewValidationError("customer_name", "custom rules need a customer")
	}

	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return common.NewValidationError("ids", "rule %d listed twice", id)
		}
		seen[id] = true
	}

	return s.withTx(ctx, "reorder rules", func(tx *sql.Tx) error {
		if scope == model.ScopeCustom {
			if _, err := s.getCustomerTx(ctx, tx, customer); err != nil {
				return err
			}
		}

		current, err := scopePriorities(ctx, tx, scope, customer)
		if err != nil {
			return err
		}

		existing := make(map[int64]int, len(current))
		for _, rp := range current {
			existing[rp.id] = rp.priority
		}
		for _, id := range ids {
			if _, ok := existing[id]; !ok {
				return common.NewNotFoundError("rule", fmt.Sprintf("%d in %s scope", id, scope))
			}
		}

		order := slices.Clone(ids)
		for _, rp := range current {
			if !seen[rp.id] {
				order = append(order, rp.id)
			}
		}

		// Park every rule on a negative priority so the unique index never
		// sees two rules on the same slot mid-reorder.
		if _, err := tx.ExecContext(ctx,
			"UPDATE rules SET priority = -id WHERE scope = ? AND customer_name = ?",
			string(scope), customer); err != nil {
			return fmt.Errorf("failed to park priorities: %w", err)
		}

		now := s.now()
		for i, id := range order {
			priority := i + 1
			query := "UPDATE rules SET priority = ? WHERE id = ?"
			args := []any{priority, id}
			if existing[id] != priority {
				query = "UPDATE rules SET priority = ?, version = version + 1, updated_at = ? WHERE id = ?"
				args = []any{priority, now, id}
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("failed to set priority of rule %d: %w", id, err)
			}
		}
		return nil
	})
}

// SetRuleEnabled enables or disables a rule. Disabled rules are kept but never evaluated.
func (s *SQLiteStorage) SetRuleEnabled(ctx context.Context, id int64, enabled bool) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	return s.withTx(ctx, "set rule enabled", func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			"UPDATE rules SET enabled = ?, version = version + 1, updated_at = ? WHERE id = ? AND enabled != ?",
			enabled, s.now(), id, enabled)
		if err != nil {
			return fmt.Errorf("failed to update rule: %w", err)
		}
		if n, _ := result.RowsAffected(); n > 0 {
			return nil
		}
		// Either missing or already in the requested state.
		_, err = s.getRuleTx(ctx, tx, id)
		return err
	})
}

// ApproveRules marks rules as validated by approver. Either every rule is
// approved or none is.
func (s *SQLiteStorage) ApproveRules(ctx context.Context, ids []int64, approver string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(approver) == "" {
		return common.NewValidationError("approver", "is required")
	}
	if len(ids) == 0 {
		return common.NewValidationError("ids", "at least one rule id is required")
	}

	return s.withTx(ctx, "approve rules", func(tx *sql.Tx) error {
		now := s.now()
		for _, id := range ids {
			result, err := tx.ExecContext(ctx, `
				UPDATE rules
				SET approved = 1, validated_by = ?, validated_at = ?, version = version + 1, updated_at = ?
				WHERE id = ?`,
				approver, now, now, id)
			if err != nil {
				return fmt.Errorf("failed to approve rule %d: %w", id, err)
			}
			if n, _ := result.RowsAffected(); n == 0 {
				return common.NewNotFoundError("rule", id)
			}
		}
		return nil
	})
}

func (s *SQLiteStorage) getRuleTx(ctx context.Context, q queryable, id int64) (*model.Rule, error) {
	rules, err := s.queryRules(ctx, q, "WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, common.NewNotFoundError("rule", id)
	}
	return &rules[0], nil
}

// queryRules selects rules with the given clause and attaches their conditions.
func (s *SQLiteStorage) queryRules(ctx context.Context, q queryable, clause string, args ...any) ([]model.Rule, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+ruleColumns+" FROM rules "+clause, args...)
	if err != nil {
		return nil, storeError("query rules", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []model.Rule
	index := make(map[int64]int)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		index[rule.ID] = len(rules)
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("query rules", err)
	}
	_ = rows.Close()

	if len(rules) == 0 {
		return rules, nil
	}

	placeholders := make([]string, len(rules))
	ids := make([]any, len(rules))
	for i, rule := range rules {
		placeholders[i] = "?"
		ids[i] = rule.ID
	}

	condRows, err := q.QueryContext(ctx, `
		SELECT rule_id, field, operator, value
		FROM rule_conditions
		WHERE rule_id IN (`+strings.Join(placeholders, ",")+`)
		ORDER BY rule_id, position`, ids...)
	if err != nil {
		return nil, storeError("query rule conditions", err)
	}
	defer func() { _ = condRows.Close() }()

	for condRows.Next() {
		var ruleID int64
		var field, operator string
		var cond model.MatchCondition
		if err := condRows.Scan(&ruleID, &field, &operator, &cond.Value); err != nil {
			return nil, fmt.Errorf("failed to scan rule condition: %w", err)
		}
		cond.Field = model.Field(field)
		cond.Operator = model.Operator(operator)
		i := index[ruleID]
		rules[i].Conditions = append(rules[i].Conditions, cond)
	}
	if err := condRows.Err(); err != nil {
		return nil, storeError("query rule conditions", err)
	}

	return rules, nil
}

func scanRule(rows *sql.Rows) (model.Rule, error) {
	var rule model.Rule
	var scope string
	var heading, validatedBy sql.NullString
	var validatedAt sql.NullTime

	err := rows.Scan(
		&rule.ID, &scope, &rule.CustomerName, &rule.Priority, &rule.Name, &rule.Classification,
		&heading, &rule.Enabled, &rule.Approved, &validatedBy, &validatedAt,
		&rule.Version, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return rule, fmt.Errorf("failed to scan rule: %w", err)
	}

	rule.Scope = model.RuleScope(scope)
	rule.ChargeGroupHeading = heading.String
	rule.ValidatedBy = validatedBy.String
	if validatedAt.Valid {
		t := validatedAt.Time
		rule.ValidatedAt = &t
	}
	return rule, nil
}

func insertConditions(ctx context.Context, tx *sql.Tx, ruleID int64, conditions []model.MatchCondition) error {
	for i, cond := range conditions {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO rule_conditions (rule_id, position, field, operator, value) VALUES (?, ?, ?, ?, ?)",
			ruleID, i, string(cond.Field), string(cond.Operator), cond.Value)
		if err != nil {
			return fmt.Errorf("failed to insert condition %d: %w", i, err)
		}
	}
	return nil
}

func nextPriority(ctx context.Context, q queryable, scope model.RuleScope, customer string) (int, error) {
	var highest int
	err := q.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(priority), 0) FROM rules WHERE scope = ? AND customer_name = ?",
		string(scope), customer).Scan(&highest)
	if err != nil {
		return 0, fmt.Errorf("failed to find next priority: %w", err)
	}
	return highest + 1, nil
}

// checkPriorityFree returns a ConflictError when another rule in the same
// scope already holds priority.
func checkPriorityFree(ctx context.Context, q queryable, scope model.RuleScope, customer string, priority int, self int64) error {
	var holder int64
	err := q.QueryRowContext(ctx,
		"SELECT id FROM rules WHERE scope = ? AND customer_name = ? AND priority = ? AND id != ?",
		string(scope), customer, priority, self).Scan(&holder)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check priority: %w", err)
	}
	return &common.ConflictError{
		Reason:            fmt.Sprintf("priority %d is already used in %s scope", priority, scope),
		RuleID:            self,
		ConflictingRuleID: holder,
	}
}

type rulePriority struct {
	id       int64
	priority int
}

func scopePriorities(ctx context.Context, q queryable, scope model.RuleScope, customer string) ([]rulePriority, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT id, priority FROM rules WHERE scope = ? AND customer_name = ? ORDER BY priority, id",
		string(scope), customer)
	if err != nil {
		return nil, fmt.Errorf("failed to list priorities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []rulePriority
	for rows.Next() {
		var rp rulePriority
		if err := rows.Scan(&rp.id, &rp.priority); err != nil {
			return nil, fmt.Errorf("failed to scan priority: %w", err)
		}
		result = append(result, rp)
	}
	return result, rows.Err()
}
