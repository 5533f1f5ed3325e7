package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/ports"
)

var _ ports.RoleStore = (*Store)(nil)

// HasActiveRole reports whether userID holds role and it has not been revoked.
func (s *Store) HasActiveRole(ctx context.Context, userID, role string) (bool, error) {
	const q = `
		SELECT COUNT(*)
		FROM   user_roles
		WHERE  user_id = ? AND role = ? AND is_active = 1 AND revoked_at IS NULL`

	var n int
	if err := s.db.QueryRowContext(ctx, q, userID, role).Scan(&n); err != nil {
		return false, fmt.Errorf("sqlite: role lookup for %q: %w", userID, err)
	}
	return n > 0, nil
}

// GrantRole activates role for userID, reactivating a revoked grant.
func (s *Store) GrantRole(ctx context.Context, userID, role string, at time.Time) error {
	const q = `
		INSERT INTO user_roles (user_id, role, is_active, granted_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT (user_id, role) DO UPDATE
		SET is_active = 1, revoked_at = NULL, granted_at = excluded.granted_at`

	if _, err := s.db.ExecContext(ctx, q, userID, role, formatTime(at)); err != nil {
		return fmt.Errorf("sqlite: grant %s to %q: %w", role, userID, err)
	}
	return nil
}

// RevokeRole deactivates role for userID. Revoking a missing grant is a no-op.
func (s *Store) RevokeRole(ctx context.Context, userID, role string, at time.Time) error {
	const q = `
		UPDATE user_roles
		SET    is_active = 0, revoked_at = ?
		WHERE  user_id = ? AND role = ?`

	if _, err := s.db.ExecContext(ctx, q, formatTime(at), userID, role); err != nil {
		return fmt.Errorf("sqlite: revoke %s from %q: %w", role, userID, err)
	}
	return nil
}
