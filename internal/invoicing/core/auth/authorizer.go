package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/domain/entity"
	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/ports"
	"github.com/jcmexdev/invoice-gateway/internal/pkg/cache"
)

// RoleInvoicer is the role required to create invoices.
const RoleInvoicer = "invoicer"

// Authorizer checks that the caller holds an active, non-revoked invoicer
// role. Positive answers may be cached for a short TTL; negative answers are
// never cached so a newly granted role takes effect immediately.
type Authorizer struct {
	roles ports.RoleStore
	cache cache.Cache // nil-safe: lookups always hit the store if nil
	ttl   time.Duration
}

func NewAuthorizer(roles ports.RoleStore, c cache.Cache, ttl time.Duration) *Authorizer {
	return &Authorizer{roles: roles, cache: c, ttl: ttl}
}

// Authorize returns an AppError when the caller lacks the role. A non-nil
// error means the role store failed.
func (a *Authorizer) Authorize(ctx context.Context, userID string) (*entity.AppError, error) {
	key := ""
	if a.cache != nil && a.ttl > 0 {
		key = a.cache.GenerateKey("role", RoleInvoicer+":"+userID)
		if v, err := a.cache.Get(ctx, key); err != nil {
			slog.WarnContext(ctx, "role cache read failed", "error", err)
		} else if v == "1" {
			return nil, nil
		}
	}

	ok, err := a.roles.HasActiveRole(ctx, userID, RoleInvoicer)
	if err != nil {
		return nil, fmt.Errorf("role lookup: %w", err)
	}
	if !ok {
		return entity.NewAppError(entity.CodeUnauthorized, "you are not authorized to create invoices"), nil
	}

	if key != "" {
		if err := a.cache.Set(ctx, key, "1", a.ttl); err != nil {
			slog.WarnContext(ctx, "role cache write failed", "error", err)
		}
	}
	return nil, nil
}
