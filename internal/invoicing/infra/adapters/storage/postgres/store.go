// Package postgres provides the PostgreSQL-backed order ledger, audit log and
// role store on top of pgxpool.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
    id                  BIGSERIAL PRIMARY KEY,
    order_number        TEXT        NOT NULL UNIQUE,
    status              TEXT        NOT NULL
        CHECK (status IN ('pending', 'processing', 'completed', 'failed')),
    square_customer_id  TEXT,
    square_order_id     TEXT,
    square_invoice_id   TEXT,
    steps_completed     JSONB       NOT NULL DEFAULT '[]'::jsonb,
    amount_cents        BIGINT      NOT NULL CHECK (amount_cents > 0),
    customer_name       TEXT        NOT NULL,
    customer_email      TEXT        NOT NULL,
    idempotency_key     TEXT        NOT NULL,
    error_message       TEXT,
    created_by          TEXT        NOT NULL DEFAULT '',
    created_at          TIMESTAMPTZ NOT NULL,
    updated_at          TIMESTAMPTZ NOT NULL,
    completed_at        TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS audit_log (
    id                  BIGSERIAL PRIMARY KEY,
    correlation_id      TEXT        NOT NULL,
    user_id             TEXT        NOT NULL DEFAULT '',
    user_email          TEXT        NOT NULL DEFAULT '',
    order_number        TEXT        NOT NULL DEFAULT '',
    customer_name       TEXT        NOT NULL DEFAULT '',
    customer_email      TEXT        NOT NULL DEFAULT '',
    amount_cents        BIGINT      NOT NULL DEFAULT 0,
    result              TEXT        NOT NULL,
    error_code          TEXT        NOT NULL DEFAULT '',
    error_message       TEXT        NOT NULL DEFAULT '',
    steps_completed     JSONB       NOT NULL DEFAULT '[]'::jsonb,
    request_timestamp   TEXT        NOT NULL DEFAULT '',
    metadata            JSONB       NOT NULL DEFAULT '{}'::jsonb,
    trace_id            TEXT        NOT NULL DEFAULT '',
    span_id             TEXT        NOT NULL DEFAULT '',
    created_at          TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_log_user ON audit_log(user_id, result, created_at);
CREATE INDEX IF NOT EXISTS idx_audit_log_result ON audit_log(result, created_at);
CREATE INDEX IF NOT EXISTS idx_audit_log_correlation ON audit_log(correlation_id);

CREATE TABLE IF NOT EXISTS user_roles (
    id          BIGSERIAL PRIMARY KEY,
    user_id     TEXT        NOT NULL,
    role        TEXT        NOT NULL,
    is_active   BOOLEAN     NOT NULL DEFAULT TRUE,
    granted_at  TIMESTAMPTZ NOT NULL,
    revoked_at  TIMESTAMPTZ,
    UNIQUE (user_id, role)
);
`

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Store is the PostgreSQL implementation of the ledger, audit and role ports.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to dsn, verifies the connection and applies the schema.
func Open(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies the schema. Idempotent due to IF NOT EXISTS.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: apply schema: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
