package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/domain/entity"
	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/ports"
)

var _ ports.AuditStore = (*Store)(nil)

// Append inserts a new audit entry. The table is append-only.
func (s *Store) Append(ctx context.Context, e *entity.AuditEntry) error {
	const q = `
		INSERT INTO audit_log
			(correlation_id, user_id, user_email, order_number, customer_name, customer_email,
			 amount_cents, result, error_code, error_message, steps_completed, request_timestamp,
			 metadata, trace_id, span_id, created_at)
		VALUES
			(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	steps, err := encodeSteps(e.StepsCompleted)
	if err != nil {
		return err
	}
	meta := "{}"
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("sqlite: encode audit metadata: %w", err)
		}
		meta = string(b)
	}

	_, err = s.db.ExecContext(ctx, q,
		e.CorrelationID,
		e.UserID,
		e.UserEmail,
		e.OrderNumber,
		e.CustomerName,
		e.CustomerEmail,
		e.AmountCents,
		string(e.Result),
		string(e.ErrorCode),
		e.ErrorMessage,
		steps,
		e.RequestTimestamp,
		meta,
		e.TraceID,
		e.SpanID,
		formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: append audit entry %q: %w", e.CorrelationID, err)
	}
	return nil
}

// CountByUser counts entries of userID with one of results since the given time.
func (s *Store) CountByUser(ctx context.Context, userID string, since time.Time, results []entity.AuditResult) (int, error) {
	q := `SELECT COUNT(*) FROM audit_log WHERE user_id = ? AND created_at >= ? AND result IN (` + placeholders(len(results)) + `)`
	args := append([]any{userID, formatTime(since)}, resultArgs(results)...)

	var n int
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count audit entries for %q: %w", userID, err)
	}
	return n, nil
}

// CountGlobal counts entries with one of results since the given time.
func (s *Store) CountGlobal(ctx context.Context, since time.Time, results []entity.AuditResult) (int, error) {
	q := `SELECT COUNT(*) FROM audit_log WHERE created_at >= ? AND result IN (` + placeholders(len(results)) + `)`
	args := append([]any{formatTime(since)}, resultArgs(results)...)

	var n int
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count audit entries: %w", err)
	}
	return n, nil
}

// ListByCorrelation returns the entries written for one request, oldest first.
func (s *Store) ListByCorrelation(ctx context.Context, correlationID string) ([]entity.AuditEntry, error) {
	const q = `
		SELECT correlation_id, user_id, user_email, order_number, result, error_code,
		       error_message, steps_completed, metadata, trace_id, span_id, created_at
		FROM   audit_log
		WHERE  correlation_id = ?
		ORDER  BY id`

	rows, err := s.db.QueryContext(ctx, q, correlationID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list audit entries %q: %w", correlationID, err)
	}
	defer rows.Close()

	var out []entity.AuditEntry
	for rows.Next() {
		var (
			e                    entity.AuditEntry
			steps, meta, created string
		)
		if err := rows.Scan(&e.CorrelationID, &e.UserID, &e.UserEmail, &e.OrderNumber, &e.Result,
			&e.ErrorCode, &e.ErrorMessage, &steps, &meta, &e.TraceID, &e.SpanID, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan audit entry: %w", err)
		}
		if err := json.Unmarshal([]byte(steps), &e.StepsCompleted); err != nil {
			return nil, fmt.Errorf("sqlite: decode audit steps: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
			return nil, fmt.Errorf("sqlite: decode audit metadata: %w", err)
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	if n == 0 {
		return "NULL"
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func resultArgs(results []entity.AuditResult) []any {
	args := make([]any, len(results))
	for i, r := range results {
		args[i] = string(r)
	}
	return args
}
