package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/domain/entity"
	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/ports"
)

var _ ports.Ledger = (*Store)(nil)

func (s *Store) Get(ctx context.Context, orderNumber string) (*entity.OrderRecord, error) {
	const q = `
SELECT order_number, status,
       COALESCE(square_customer_id, ''), COALESCE(square_order_id, ''), COALESCE(square_invoice_id, ''),
       steps_completed, amount_cents, customer_name, customer_email, idempotency_key,
       COALESCE(error_message, ''), created_by, created_at, updated_at, completed_at
FROM orders
WHERE order_number = $1
`
	var (
		rec    entity.OrderRecord
		status string
		steps  []byte
	)
	err := s.pool.QueryRow(ctx, q, orderNumber).Scan(
		&rec.OrderNumber,
		&status,
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
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ports.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get order %q: %w", orderNumber, err)
	}
	rec.Status = entity.OrderStatus(status)
	if err := json.Unmarshal(steps, &rec.StepsCompleted); err != nil {
		return nil, fmt.Errorf("postgres: decode steps of %q: %w", orderNumber, err)
	}
	return &rec, nil
}

func (s *Store) Create(ctx context.Context, rec *entity.OrderRecord) error {
	const q = `
INSERT INTO orders (
    order_number, status, steps_completed, amount_cents, customer_name,
    customer_email, idempotency_key, created_by, created_at, updated_at
) VALUES ($1, $2, $3::jsonb, $4, $5, $6, $7, $8, $9, $10)
`
	steps, err := encodeSteps(rec.StepsCompleted)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, q,
		rec.OrderNumber,
		string(rec.Status),
		steps,
		rec.AmountCents,
		rec.CustomerName,
		rec.CustomerEmail,
		rec.IdempotencyKey,
		rec.CreatedBy,
		rec.CreatedAt.UTC(),
		rec.UpdatedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return ports.ErrDuplicateOrder
	}
	if err != nil {
		return fmt.Errorf("postgres: create order %q: %w", rec.OrderNumber, err)
	}
	return nil
}

func (s *Store) Reopen(ctx context.Context, orderNumber string, at, staleBefore time.Time) error {
	const q = `
UPDATE orders
SET status = 'processing', updated_at = $1
WHERE order_number = $2
  AND (status IN ('pending', 'failed') OR (status = 'processing' AND updated_at < $3))
`
	tag, err := s.pool.Exec(ctx, q, at.UTC(), orderNumber, staleBefore.UTC())
	if err != nil {
		return fmt.Errorf("postgres: reopen order %q: %w", orderNumber, err)
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrDuplicateOrder
	}
	return nil
}

func (s *Store) Update(ctx context.Context, rec *entity.OrderRecord) error {
	const q = `
UPDATE orders
SET status = $1,
    square_customer_id = $2,
    square_order_id = $3,
    square_invoice_id = $4,
    steps_completed = $5::jsonb,
    error_message = $6,
    updated_at = $7,
    completed_at = $8
WHERE order_number = $9
`
	steps, err := encodeSteps(rec.StepsCompleted)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, q,
		string(rec.Status),
		nullableString(rec.CustomerID),
		nullableString(rec.SquareOrderID),
		nullableString(rec.InvoiceID),
		steps,
		nullableString(rec.ErrorMessage),
		rec.UpdatedAt.UTC(),
		rec.CompletedAt,
		rec.OrderNumber,
	)
	if err != nil {
		return fmt.Errorf("postgres: update order %q: %w", rec.OrderNumber, err)
	}
	if tag.RowsAffected() == 0 {
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
		return "", fmt.Errorf("postgres: encode steps: %w", err)
	}
	return string(b), nil
}
