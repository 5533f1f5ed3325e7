// Package correlation carries the per-request correlation id through a
// context.Context.
package correlation

import (
	"context"

	"github.com/google/uuid"
)

// contextKey is an unexported type for context keys in this package.
type contextKey string

const (
	HeaderCorrelationID = "X-Correlation-ID"

	// ContextKeyCorrelationID is the context key for the correlation id.
	ContextKeyCorrelationID contextKey = "correlation_id"
)

// NewID returns a fresh correlation id.
func NewID() string {
	return uuid.NewString()
}

func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ContextKeyCorrelationID, id)
}

// FromContext returns the correlation id stored in ctx, or "" if none.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ContextKeyCorrelationID).(string)
	return id
}
