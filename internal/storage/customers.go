package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/chargemap/internal/common"
	"github.com/Veraticus/chargemap/internal/model"
)

// CreateCustomer inserts a customer. Names are unique.
func (s *SQLiteStorage) CreateCustomer(ctx context.Context, customer *model.Customer) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateCustomer(customer); err != nil {
		return err
	}

	customer.Name = strings.TrimSpace(customer.Name)
	customer.CreatedAt = s.now()

	return s.withTx(ctx, "create customer", func(tx *sql.Tx) error {
		var existing int64
		err := tx.QueryRowContext(ctx, "SELECT id FROM customers WHERE name = ?", customer.Name).Scan(&existing)
		if err == nil {
			return &common.ConflictError{Reason: fmt.Sprintf("customer %q already exists", customer.Name)}
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to check customer: %w", err)
		}

		result, err := tx.ExecContext(ctx,
			"INSERT INTO customers (name, organization_id, created_at) VALUES (?, ?, ?)",
			customer.Name, nullString(customer.OrganizationID), customer.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to create customer: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get customer ID: %w", err)
		}
		customer.ID = id
		return nil
	})
}

// GetCustomer retrieves a customer by name.
func (s *SQLiteStorage) GetCustomer(ctx context.Context, name string) (*model.Customer, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}
	return s.getCustomerTx(ctx, s.db, name)
}

func (s *SQLiteStorage) getCustomerTx(ctx context.Context, q queryable, name string) (*model.Customer, error) {
	var customer model.Customer
	var orgID sql.NullString
	err := q.QueryRowContext(ctx,
		"SELECT id, name, organization_id, created_at FROM customers WHERE name = ?", name,
	).Scan(&customer.ID, &customer.Name, &orgID, &customer.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.NewNotFoundError("customer", name)
		}
		return nil, storeError("get customer", err)
	}
	customer.OrganizationID = orgID.String
	return &customer, nil
}

// ListCustomers returns all customers ordered by name.
func (s *SQLiteStorage) ListCustomers(ctx context.Context) ([]model.Customer, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, organization_id, created_at FROM customers ORDER BY name")
	if err != nil {
		return nil, storeError("list customers", err)
	}
	defer func() { _ = rows.Close() }()

	var customers []model.Customer
	for rows.Next() {
		var customer model.Customer
		var orgID sql.NullString
		if err := rows.Scan(&customer.ID, &customer.Name, &orgID, &customer.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		customer.OrganizationID = orgID.String
		customers = append(customers, customer)
	}

	if err := rows.Err(); err != nil {
		return nil, storeError("list customers", err)
	}
	return customers, nil
}
