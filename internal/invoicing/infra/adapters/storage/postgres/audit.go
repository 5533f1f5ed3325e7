package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/domain/entity"
	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/ports"
)

var (
	_ ports.AuditStore = (*Store)(nil)
	_ ports.RoleStore  = (*Store)(nil)
)

func (s *Store) Append(ctx context.Context, e *entity.AuditEntry) error {
	const q = `
INSERT INTO audit_log (
    correlation_id, user_id, user_email, order_number, customer_name, customer_email,
    amount_cents, result, error_code, error_message, steps_completed, request_timestamp,
    metadata, trace_id, span_id, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb, $12, $13::jsonb, $14, $15, $16)
`
	steps, err := encodeSteps(e.StepsCompleted)
	if err != nil {
		return err
	}
	meta := "{}"
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("postgres: encode audit metadata: %w", err)
		}
		meta = string(b)
	}

	_, err = s.pool.Exec(ctx, q,
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
		e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: append audit entry %q: %w", e.CorrelationID, err)
	}
	return nil
}

func (s *Store) CountByUser(ctx context.Context, userID string, since time.Time, results []entity.AuditResult) (int, error) {
	const q = `
SELECT COUNT(*) FROM audit_log
WHERE user_id = $1 AND created_at >= $2 AND result = ANY($3)
`
	var n int
	if err := s.pool.QueryRow(ctx, q, userID, since.UTC(), resultStrings(results)).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count audit entries for %q: %w", userID, err)
	}
	return n, nil
}

func (s *Store) CountGlobal(ctx context.Context, since time.Time, results []entity.AuditResult) (int, error) {
	const q = `
SELECT COUNT(*) FROM audit_log
WHERE created_at >= $1 AND result = ANY($2)
`
	var n int
	if err := s.pool.QueryRow(ctx, q, since.UTC(), resultStrings(results)).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count audit entries: %w", err)
	}
	return n, nil
}

func (s *Store) HasActiveRole(ctx context.Context, userID, role string) (bool, error) {
	const q = `
SELECT EXISTS (
    SELECT 1 FROM user_roles
    WHERE user_id = $1 AND role = $2 AND is_active AND revoked_at IS NULL
)
`
	var ok bool
	if err := s.pool.QueryRow(ctx, q, userID, role).Scan(&ok); err != nil {
		return false, fmt.Errorf("postgres: role lookup for %q: %w", userID, err)
	}
	return ok, nil
}

func (s *Store) GrantRole(ctx context.Context, userID, role string, at time.Time) error {
	const q = `
INSERT INTO user_roles (user_id, role, is_active, granted_at)
VALUES ($1, $2, TRUE, $3)
ON CONFLICT (user_id, role) DO UPDATE
SET is_active = TRUE, revoked_at = NULL, granted_at = EXCLUDED.granted_at
`
	if _, err := s.pool.Exec(ctx, q, userID, role, at.UTC()); err != nil {
		return fmt.Errorf("postgres: grant %s to %q: %w", role, userID, err)
	}
	return nil
}

func (s *Store) RevokeRole(ctx context.Context, userID, role string, at time.Time) error {
	const q = `
UPDATE user_roles SET is_active = FALSE, revoked_at = $1
WHERE user_id = $2 AND role = $3
`
	if _, err := s.pool.Exec(ctx, q, at.UTC(), userID, role); err != nil {
		return fmt.Errorf("postgres: revoke %s from %q: %w", role, userID, err)
	}
	return nil
}

func resultStrings(results []entity.AuditResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = string(r)
	}
	return out
}
