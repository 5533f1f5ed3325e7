package guard

import (
	"time"

	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/domain/entity"
)

const (
	DefaultMaxAge  = 120 * time.Second
	DefaultMaxSkew = 30 * time.Second
)

// ReplayGuard rejects stale or implausibly future request timestamps.
// Accepted: -maxSkew <= now-timestamp <= maxAge.
type ReplayGuard struct {
	maxAge  time.Duration
	maxSkew time.Duration
	now     func() time.Time
}

func NewReplayGuard(maxAge, maxSkew time.Duration, now func() time.Time) *ReplayGuard {
	if now == nil {
		now = time.Now
	}
	return &ReplayGuard{maxAge: maxAge, maxSkew: maxSkew, now: now}
}

// Check parses the ISO-8601 timestamp and tests it against the window.
func (g *ReplayGuard) Check(timestamp string) *entity.AppError {
	ts, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return entity.NewAppError(entity.CodeReplayRejected, "request_timestamp is not a valid ISO-8601 time")
	}

	age := g.now().Sub(ts)
	if age > g.maxAge {
		return entity.NewAppError(entity.CodeReplayRejected, "request expired, please retry")
	}
	if age < -g.maxSkew {
		return entity.NewAppError(entity.CodeReplayRejected, "request timestamp is in the future")
	}
	return nil
}
