package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/domain/entity"
	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/ports"
)

var _ ports.Ledger = (*Store)(nil)

// Get returns the record for orderNumber or ports.ErrOrderNotFound.
func (s *Store) Get(ctx context.Context, orderNumber string) (*entity.OrderRecord, error) {
	const q = `
		SELECT order_number, status,
		       COALESCE(square_customer_id,''), COALESCE(square_order_id,''), COALESCE(square_invoice_id,''),
		       steps_completed, amount_cents, customer_name, customer_email, idempotency_key,
		       COALESCE(error_message,''), created_by, created_at, updated_at, completed_at
		FROM   orders
		WHERE  order_number = ?`

	var (
		rec                  entity.OrderRecord
		steps                string
		createdAt, updatedAt string
		completedAt          sql.NullString
	)
	err := s.db.QueryRowContext(ctx, q, orderNumber).Scan(
		&rec.OrderNumber,
		&rec.Status,
		&rec.CustomerID,
		&rec.SquareOrderID,
		&rec.InvoiceID,
		&steps,
		&rec.AmountCents,
		&rec.CustomerName,
		&rec.CustomerEmail,
		&rec.IdempotencyKey,
		&rec.ErrorMessage,
		&rec.CreatedBy,
		&createdAt,
		&updatedAt,
		&completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ports.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get order %q: %w", orderNumber, err)
	}

	if err := json.Unmarshal([]byte(steps), &rec.StepsCompleted); err != nil {
		return nil, fmt.Errorf("sqlite: decode steps of %q: %w", orderNumber, err)
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if rec.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Create inserts rec. The UNIQUE constraint on order_number turns a lost race
// into ports.ErrDuplicateOrder.
func (s *Store) Create(ctx context.Context, rec *entity.OrderRecord) error {
	const q = `
		INSERT INTO orders
			(order_number, status, steps_completed, amount_cents, customer_name, customer_email,
			 idempotency_key, created_by, created_at, updated_at)
		VALUES
			(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	steps, err := encodeSteps(rec.StepsCompleted)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, q,
		rec.OrderNumber,
		string(rec.Status),
		steps,
		rec.AmountCents,
		rec.CustomerName,
		rec.CustomerEmail,
		rec.IdempotencyKey,
		rec.CreatedBy,
		formatTime(rec.CreatedAt),
		formatTime(rec.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return ports.ErrDuplicateOrder
	}
	if err != nil {
		return fmt.Errorf("sqlite: create order %q: %w", rec.OrderNumber, err)
	}
	return nil
}

// Reopen claims a pending, failed or stale processing record for a new
// attempt.
func (s *Store) Reopen(ctx context.Context, orderNumber string, at, staleBefore time.Time) error {
	const q = `
		UPDATE orders
		SET    status = 'processing', updated_at = ?
		WHERE  order_number = ?
		  AND  (status IN ('pending', 'failed')
		        OR (status = 'processing' AND updated_at < ?))`

	res, err := s.db.ExecContext(ctx, q, formatTime(at), orderNumber, formatTime(staleBefore))
	if err != nil {
		return fmt.Errorf("sqlite: reopen order %q: %w", orderNumber, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: reopen order %q: %w", orderNumber, err)
	}
	if n == 0 {
		return ports.ErrDuplicateOrder
	}
	return nil
}

// Update writes the mutable columns of rec.
func (s *Store) Update(ctx context.Context, rec *entity.OrderRecord) error {
	const q = `
		UPDATE orders
		SET    status = ?,
		       square_customer_id = ?,
		       square_order_id = ?,
		       square_invoice_id = ?,
		       steps_completed = ?,
		       error_message = ?,
		       updated_at = ?,
		       completed_at = ?
		WHERE  order_number = ?`

	steps, err := encodeSteps(rec.StepsCompleted)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, q,
		string(rec.Status),
		nullableString(rec.CustomerID),
		nullableString(rec.SquareOrderID),
		nullableString(rec.InvoiceID),
		steps,
		nullableString(rec.ErrorMessage),
		formatTime(rec.UpdatedAt),
		nullTime(rec.CompletedAt),
		rec.OrderNumber,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update order %q: %w", rec.OrderNumber, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ports.ErrOrderNotFound
	}
	return nil
}

func encodeSteps(steps []entity.Step) (string, error) {
	if steps == nil {
		steps = []entity.Step{}
	}
	b, err := json.Marshal(steps)
	if err != nil {
		return "", fmt.Errorf("sqlite: encode steps: %w", err)
	}
	return string(b), nil
}
