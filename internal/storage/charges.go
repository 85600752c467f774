package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Veraticus/chargemap/internal/common"
	"github.com/Veraticus/chargemap/internal/model"
)

// ErrStaleCharge marks a charge whose classification changed after it was read.
var ErrStaleCharge = errors.New("charge classification changed since it was read")

const chargeColumns = `id, customer_name, statement_id, statement_date, provider_name,
	account_number, meter_number, charge_name, usage_unit, service_type,
	measurement, classification, contribution_status`

func stateClause(state model.ChargeState) (string, []any, error) {
	switch state {
	case "", model.StateAll:
		return "", nil, nil
	case model.StateUncategorized:
		return " AND classification = ?", []any{model.UncategorizedCharge}, nil
	case model.StateApprovalNeeded:
		return " AND contribution_status = ?", []any{model.ContributionNonContributing}, nil
	case model.StateApproved:
		return " AND contribution_status = ?", []any{model.ContributionContributing}, nil
	}
	return "", nil, common.NewValidationError("state", "unknown charge state %q", state)
}

// QueryCharges returns one page of a customer's charges, newest statement first.
func (s *SQLiteStorage) QueryCharges(ctx context.Context, customer string, filter model.ChargeFilter) ([]model.Charge, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(customer, "customer"); err != nil {
		return nil, err
	}

	clause, args, err := stateClause(filter.State)
	if err != nil {
		return nil, err
	}

	query := "SELECT " + chargeColumns + " FROM charges WHERE customer_name = ?" + clause +
		" ORDER BY statement_date DESC, id"
	args = append([]any{customer}, args...)

	if filter.PageSize > 0 {
		page := max(filter.Page, 1)
		if page-1 > math.MaxInt/filter.PageSize {
			return nil, common.NewValidationError("page", "page %d of size %d is out of range", page, filter.PageSize)
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.PageSize, (page-1)*filter.PageSize)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("query charges", err)
	}
	defer func() { _ = rows.Close() }()

	var charges []model.Charge
	for rows.Next() {
		charge, err := scanCharge(rows)
		if err != nil {
			return nil, err
		}
		charges = append(charges, charge)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("query charges", err)
	}
	return charges, nil
}

// CountCharges counts a customer's charges in state.
func (s *SQLiteStorage) CountCharges(ctx context.Context, customer string, state model.ChargeState) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	clause, args, err := stateClause(state)
	if err != nil {
		return 0, err
	}

	var count int
	args = append([]any{customer}, args...)
	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM charges WHERE customer_name = ?"+clause, args...).Scan(&count)
	if err != nil {
		return 0, storeError("count charges", err)
	}
	return count, nil
}

// CountUncategorized returns the uncategorized charge count per customer.
func (s *SQLiteStorage) CountUncategorized(ctx context.Context) (map[string]int, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT customer_name, COUNT(*) FROM charges WHERE classification = ? GROUP BY customer_name",
		model.UncategorizedCharge)
	if err != nil {
		return nil, storeError("count uncategorized charges", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var customer string
		var count int
		if err := rows.Scan(&customer, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[customer] = count
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("count uncategorized charges", err)
	}
	return counts, nil
}

// SaveCharges inserts charges, overwriting any stored charge with the same
// ID. A blank classification is stored as the uncategorized sentinel.
func (s *SQLiteStorage) SaveCharges(ctx context.Context, charges []model.Charge) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	for i := range charges {
		if err := validateCharge(&charges[i]); err != nil {
			return fmt.Errorf("charge at index %d: %w", i, err)
		}
	}

	return s.withTx(ctx, "save charges", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO charges (`+chargeColumns+`, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				customer_name = excluded.customer_name,
				statement_id = excluded.statement_id,
				statement_date = excluded.statement_date,
				provider_name = excluded.provider_name,
				account_number = excluded.account_number,
				meter_number = excluded.meter_number,
				charge_name = excluded.charge_name,
				usage_unit = excluded.usage_unit,
				service_type = excluded.service_type,
				measurement = excluded.measurement,
				classification = excluded.classification,
				contribution_status = excluded.contribution_status,
				updated_at = excluded.updated_at`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		now := s.now()
		for _, c := range charges {
			status := c.ContributionStatus
			if status == "" {
				status = model.ContributionNonContributing
			}
			var date sql.NullTime
			if !c.StatementDate.IsZero() {
				date = sql.NullTime{Time: c.StatementDate.UTC(), Valid: true}
			}

			_, err := stmt.ExecContext(ctx,
				c.ID, c.CustomerName, c.StatementID, date, nullString(c.ProviderName),
				nullString(c.AccountNumber), nullString(c.MeterNumber), c.ChargeName,
				nullString(c.UsageUnit), nullString(c.ServiceType), nullString(c.Measurement),
				c.CurrentClassification(), status, now,
			)
			if err != nil {
				return fmt.Errorf("failed to save charge %s: %w", c.ID, err)
			}
		}
		return nil
	})
}

// UpdateChargeClassifications writes a chunk of classification changes in
// one transaction. Each row is a compare-and-swap on its old classification;
// a row that no longer matches is reported as a per-row failure. A returned
// error means nothing in the chunk was written.
func (s *SQLiteStorage) UpdateChargeClassifications(ctx context.Context, updates []model.ClassificationUpdate) ([]model.UpdateOutcome, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return nil, nil
	}

	outcomes := make([]model.UpdateOutcome, 0, len(updates))
	err := s.withTx(ctx, "update charge classifications", func(tx *sql.Tx) error {
		outcomes = outcomes[:0]
		now := s.now()

		for _, u := range updates {
			if u.NewClassification == "" {
				outcomes = append(outcomes, model.UpdateOutcome{
					ChargeID: u.ChargeID,
					Err:      common.NewValidationError("classification", "must not be empty"),
				})
				continue
			}

			result, err := tx.ExecContext(ctx,
				"UPDATE charges SET classification = ?, updated_at = ? WHERE id = ? AND classification = ?",
				u.NewClassification, now, u.ChargeID, u.OldClassification)
			if err != nil {
				return fmt.Errorf("failed to update charge %s: %w", u.ChargeID, err)
			}

			n, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to read update result: %w", err)
			}
			if n == 0 {
				outcomes = append(outcomes, model.UpdateOutcome{ChargeID: u.ChargeID, Err: s.missingChargeError(ctx, tx, u.ChargeID)})
				continue
			}

			_, err = tx.ExecContext(ctx, `
				INSERT INTO classification_history (
					charge_id, old_classification, new_classification, rule_id, run_id, changed_at
				) VALUES (?, ?, ?, ?, ?, ?)`,
				u.ChargeID, u.OldClassification, u.NewClassification, nullInt64(u.RuleID), nullString(u.RunID), now)
			if err != nil {
				return fmt.Errorf("failed to record history for charge %s: %w", u.ChargeID, err)
			}

			outcomes = append(outcomes, model.UpdateOutcome{ChargeID: u.ChargeID})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (s *SQLiteStorage) missingChargeError(ctx context.Context, q queryable, id string) error {
	var exists int
	err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM charges WHERE id = ?", id).Scan(&exists)
	if err == nil && exists == 0 {
		return common.NewNotFoundError("charge", id)
	}
	return ErrStaleCharge
}

// ClassificationHistory is one recorded change of a charge's classification.
type ClassificationHistory struct {
	ChangedAt         time.Time
	ChargeID          string
	OldClassification string
	NewClassification string
	RunID             string
	RuleID            int64
}

// GetClassificationHistory returns the recorded changes of a charge, oldest first.
func (s *SQLiteStorage) GetClassificationHistory(ctx context.Context, chargeID string) ([]ClassificationHistory, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT charge_id, old_classification, new_classification, rule_id, run_id, changed_at
		FROM classification_history
		WHERE charge_id = ?
		ORDER BY id`, chargeID)
	if err != nil {
		return nil, storeError("get classification history", err)
	}
	defer func() { _ = rows.Close() }()

	var history []ClassificationHistory
	for rows.Next() {
		var h ClassificationHistory
		var ruleID sql.NullInt64
		var runID sql.NullString
		if err := rows.Scan(&h.ChargeID, &h.OldClassification, &h.NewClassification, &ruleID, &runID, &h.ChangedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		h.RuleID = ruleID.Int64
		h.RunID = runID.String
		history = append(history, h)
	}
	return history, rows.Err()
}

func scanCharge(rows *sql.Rows) (model.Charge, error) {
	var c model.Charge
	var date sql.NullTime
	var provider, account, meter, unit, service, measurement sql.NullString

	err := rows.Scan(
		&c.ID, &c.CustomerName, &c.StatementID, &date, &provider,
		&account, &meter, &c.ChargeName, &unit, &service,
		&measurement, &c.Classification, &c.ContributionStatus,
	)
	if err != nil {
		return c, fmt.Errorf("failed to scan charge: %w", err)
	}

	if date.Valid {
		c.StatementDate = date.Time
	}
	c.ProviderName = provider.String
	c.AccountNumber = account.String
	c.MeterNumber = meter.String
	c.UsageUnit = unit.String
	c.ServiceType = service.String
	c.Measurement = measurement.String
	return c, nil
}
