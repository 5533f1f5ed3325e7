// Package sqlite provides the SQLite-backed order ledger, audit log and role
// store.
//
// WAL mode is enabled on Open so that readers never block writers; the rate
// limiter's counting queries run while other requests append audit rows.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// schema is the DDL executed on Open. Idempotent due to IF NOT EXISTS.
const schema = `
CREATE TABLE IF NOT EXISTS orders (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,

    -- UNIQUE closes the race between two first-time requests for one order.
    order_number        TEXT    NOT NULL UNIQUE,

    status              TEXT    NOT NULL
        CHECK (status IN ('pending', 'processing', 'completed', 'failed')),

    square_customer_id  TEXT,
    square_order_id     TEXT,
    square_invoice_id   TEXT,

    -- JSON array of step names, union over all attempts.
    steps_completed     TEXT    NOT NULL DEFAULT '[]',

    amount_cents        INTEGER NOT NULL CHECK (amount_cents > 0),
    customer_name       TEXT    NOT NULL,
    customer_email      TEXT    NOT NULL,
    idempotency_key     TEXT    NOT NULL,
    error_message       TEXT,
    created_by          TEXT    NOT NULL DEFAULT '',

    created_at          TEXT    NOT NULL,
    updated_at          TEXT    NOT NULL,
    completed_at        TEXT
);

CREATE TABLE IF NOT EXISTS audit_log (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    correlation_id      TEXT    NOT NULL,
    user_id             TEXT    NOT NULL DEFAULT '',
    user_email          TEXT    NOT NULL DEFAULT '',
    order_number        TEXT    NOT NULL DEFAULT '',
    customer_name       TEXT    NOT NULL DEFAULT '',
    customer_email      TEXT    NOT NULL DEFAULT '',
    amount_cents        INTEGER NOT NULL DEFAULT 0,
    result              TEXT    NOT NULL,
    error_code          TEXT    NOT NULL DEFAULT '',
    error_message       TEXT    NOT NULL DEFAULT '',
    steps_completed     TEXT    NOT NULL DEFAULT '[]',
    request_timestamp   TEXT    NOT NULL DEFAULT '',
    metadata            TEXT    NOT NULL DEFAULT '{}',
    trace_id            TEXT    NOT NULL DEFAULT '',
    span_id             TEXT    NOT NULL DEFAULT '',
    created_at          TEXT    NOT NULL
);

-- Per-caller hourly count.
CREATE INDEX IF NOT EXISTS idx_audit_log_user ON audit_log(user_id, result, created_at);

-- Global hourly count.
CREATE INDEX IF NOT EXISTS idx_audit_log_result ON audit_log(result, created_at);

CREATE INDEX IF NOT EXISTS idx_audit_log_correlation ON audit_log(correlation_id);

CREATE TABLE IF NOT EXISTS user_roles (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id     TEXT    NOT NULL,
    role        TEXT    NOT NULL,
    is_active   INTEGER NOT NULL DEFAULT 1,
    granted_at  TEXT    NOT NULL,
    revoked_at  TEXT,
    UNIQUE (user_id, role)
);
`

// Store is the SQLite implementation of the ledger, audit and role ports.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at the given path and applies
// the schema.
//
//	store, err := sqlite.Open("./data/invoices.db")
func Open(path string) (*Store, error) {
	// busy_timeout waits for locks instead of failing immediately.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", path)

	// Use "sqlite", not "sqlite3" for the modernc driver.
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}

	// SQLite performs best with a single writer connection.
	db.SetMaxOpenConns(1)

	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close releases the database connection. Call it with defer in main().
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate re-applies the schema. Open already does this; the method exists for
// the migrate command.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	// Connections without extended result codes only report the message.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// nullableString returns nil for empty strings so SQLite stores NULL instead
// of an empty TEXT.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
