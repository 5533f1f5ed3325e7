package ports

import (
	"context"
	"errors"
	"time"

	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/domain/entity"
)

var (
	// ErrOrderNotFound is returned by Ledger.Get when no record exists.
	ErrOrderNotFound = errors.New("order not found")
	// ErrDuplicateOrder is returned when the storage uniqueness constraint on
	// order_number rejects an insert, or when a completed record cannot be
	// reopened.
	ErrDuplicateOrder = errors.New("order already exists")
)

// Ledger persists OrderRecords. Each method is a single atomic write or read.
type Ledger interface {
	Get(ctx context.Context, orderNumber string) (*entity.OrderRecord, error)
	// Create inserts a new record. A uniqueness conflict yields ErrDuplicateOrder.
	Create(ctx context.Context, rec *entity.OrderRecord) error
	// Reopen moves a pending or failed record back to processing. A
	// processing record is reclaimed only when it was last touched before
	// staleBefore. Anything else yields ErrDuplicateOrder.
	Reopen(ctx context.Context, orderNumber string, at, staleBefore time.Time) error
	// Update writes status, external ids, steps, error message and completion
	// time of rec.
	Update(ctx context.Context, rec *entity.OrderRecord) error
}

// AuditStore is the append-only audit log plus the aggregate queries the rate
// limiter runs against it.
type AuditStore interface {
	Append(ctx context.Context, entry *entity.AuditEntry) error
	CountByUser(ctx context.Context, userID string, since time.Time, results []entity.AuditResult) (int, error)
	CountGlobal(ctx context.Context, since time.Time, results []entity.AuditResult) (int, error)
}

// RoleStore answers role membership questions.
type RoleStore interface {
	HasActiveRole(ctx context.Context, userID, role string) (bool, error)
}
