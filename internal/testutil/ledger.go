package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/domain/entity"
	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/ports"
)

// MemoryLedger is an in-memory ports.Ledger. Records are copied on the way in
// and out so callers cannot mutate stored state.
type MemoryLedger struct {
	mu      sync.Mutex
	records map[string]entity.OrderRecord

	// Updates records every status written through Update, in order.
	Updates []entity.OrderStatus
	// UpdateErr, when set, is returned by every Update call.
	UpdateErr error
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{records: map[string]entity.OrderRecord{}}
}

func (l *MemoryLedger) Get(_ context.Context, orderNumber string) (*entity.OrderRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[orderNumber]
	if !ok {
		return nil, ports.ErrOrderNotFound
	}
	return cloneRecord(rec), nil
}

func (l *MemoryLedger) Create(_ context.Context, rec *entity.OrderRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.records[rec.OrderNumber]; ok {
		return ports.ErrDuplicateOrder
	}
	l.records[rec.OrderNumber] = *cloneRecord(*rec)
	return nil
}

func (l *MemoryLedger) Reopen(_ context.Context, orderNumber string, at, staleBefore time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[orderNumber]
	if !ok {
		return ports.ErrOrderNotFound
	}
	switch rec.Status {
	case entity.StatusPending, entity.StatusFailed:
	case entity.StatusProcessing:
		if !rec.UpdatedAt.Before(staleBefore) {
			return ports.ErrDuplicateOrder
		}
	default:
		return ports.ErrDuplicateOrder
	}
	rec.Status = entity.StatusProcessing
	rec.UpdatedAt = at
	l.records[orderNumber] = rec
	return nil
}

func (l *MemoryLedger) Update(_ context.Context, rec *entity.OrderRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.UpdateErr != nil {
		return l.UpdateErr
	}
	l.Updates = append(l.Updates, rec.Status)
	l.records[rec.OrderNumber] = *cloneRecord(*rec)
	return nil
}

func cloneRecord(rec entity.OrderRecord) *entity.OrderRecord {
	rec.StepsCompleted = append([]entity.Step(nil), rec.StepsCompleted...)
	if rec.CompletedAt != nil {
		t := *rec.CompletedAt
		rec.CompletedAt = &t
	}
	return &rec
}

var _ ports.Ledger = (*MemoryLedger)(nil)
