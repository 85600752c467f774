package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Veraticus/chargemap/internal/model"
)

// RecordApplyRun stores the audit record of a finished apply run.
func (s *SQLiteStorage) RecordApplyRun(ctx context.Context, result *model.ApplyResult) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if result == nil {
		return fmt.Errorf("%w: apply result", ErrNilParameter)
	}
	if err := validateString(result.RunID, "run ID"); err != nil {
		return err
	}

	return s.withTx(ctx, "record apply run", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO apply_runs (
				id, customer_name, rule_id, succeeded, failed, unchanged, started_at, finished_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			result.RunID, result.CustomerName, nullInt64(result.RuleID),
			len(result.Succeeded), len(result.Failed), result.Unchanged,
			result.StartedAt.UTC(), result.FinishedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to record apply run: %w", err)
		}
		return nil
	})
}

// ListApplyRuns returns the most recent apply runs, newest first. An empty
// customer lists runs of every customer; a limit of zero or less lists all.
func (s *SQLiteStorage) ListApplyRuns(ctx context.Context, customer string, limit int) ([]model.ApplyRun, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `SELECT id, customer_name, rule_id, succeeded, failed, unchanged, started_at, finished_at
		FROM apply_runs`
	var args []any
	if customer != "" {
		query += " WHERE customer_name = ?"
		args = append(args, customer)
	}
	query += " ORDER BY started_at DESC, id"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("list apply runs", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []model.ApplyRun
	for rows.Next() {
		var run model.ApplyRun
		var ruleID sql.NullInt64
		if err := rows.Scan(&run.ID, &run.CustomerName, &ruleID, &run.Succeeded, &run.Failed,
			&run.Unchanged, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan apply run: %w", err)
		}
		run.RuleID = ruleID.Int64
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list apply runs", err)
	}
	return runs, nil
}
