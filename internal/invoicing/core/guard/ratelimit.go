package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/domain/entity"
	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/ports"
)

const (
	rateWindow              = time.Hour
	userRetryAfterSeconds   = 3600
	globalRetryAfterSeconds = 300
)

// RateLimiter enforces sliding one-hour limits computed from the audit log.
// Only SUCCESS and FAILURE entries count.
type RateLimiter struct {
	store       ports.AuditStore
	userLimit   int
	globalLimit int
	now         func() time.Time
}

func NewRateLimiter(store ports.AuditStore, userLimit, globalLimit int, now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{
		store:       store,
		userLimit:   userLimit,
		globalLimit: globalLimit,
		now:         now,
	}
}

// Check returns an AppError when the caller or the whole service is over its
// limit. The per-caller limit is checked first. A non-nil error means the
// counts could not be read.
func (l *RateLimiter) Check(ctx context.Context, userID string) (*entity.AppError, error) {
	since := l.now().Add(-rateWindow)

	userCount, err := l.store.CountByUser(ctx, userID, since, entity.CountedResults)
	if err != nil {
		return nil, fmt.Errorf("count user requests: %w", err)
	}
	if userCount >= l.userLimit {
		return &entity.AppError{
			Code:       entity.CodeRateLimitedUser,
			Message:    fmt.Sprintf("rate limit of %d invoices per hour reached", l.userLimit),
			RetryAfter: userRetryAfterSeconds,
		}, nil
	}

	globalCount, err := l.store.CountGlobal(ctx, since, entity.CountedResults)
	if err != nil {
		return nil, fmt.Errorf("count global requests: %w", err)
	}
	if globalCount >= l.globalLimit {
		return &entity.AppError{
			Code:       entity.CodeRateLimitedGlobal,
			Message:    "service is busy, please retry later",
			RetryAfter: globalRetryAfterSeconds,
		}, nil
	}

	return nil, nil
}
