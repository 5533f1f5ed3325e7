package ports

import (
	"context"

	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/domain/entity"
)

// AuditPublisher streams audit entries to downstream consumers. Publishing is
// best-effort; the audit store stays the source of truth.
type AuditPublisher interface {
	Publish(ctx context.Context, entry *entity.AuditEntry) error
}
