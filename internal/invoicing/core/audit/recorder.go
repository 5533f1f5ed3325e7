// Package audit writes the one audit entry every invoice request produces.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/domain/entity"
	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/ports"
	"github.com/jcmexdev/invoice-gateway/internal/pkg/correlation"
	"github.com/jcmexdev/invoice-gateway/internal/pkg/metrics"
)

const defaultTimeout = 5 * time.Second

// Recorder persists audit entries and mirrors them to the event stream.
// Write failures are logged and counted, never returned.
type Recorder struct {
	store     ports.AuditStore
	publisher ports.AuditPublisher // nil disables streaming
	timeout   time.Duration
	now       func() time.Time
}

func NewRecorder(store ports.AuditStore, publisher ports.AuditPublisher, timeout time.Duration, now func() time.Time) *Recorder {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if now == nil {
		now = time.Now
	}
	return &Recorder{store: store, publisher: publisher, timeout: timeout, now: now}
}

// Record stamps e with the correlation id, trace ids and creation time, then
// appends it. The write outlives cancellation of ctx.
func (r *Recorder) Record(ctx context.Context, e *entity.AuditEntry) {
	if e.CorrelationID == "" {
		e.CorrelationID = correlation.FromContext(ctx)
	}
	ti := ExtractTraceInfo(ctx)
	e.TraceID, e.SpanID = ti.TraceID, ti.SpanID
	e.CreatedAt = r.now().UTC()
	if e.StepsCompleted == nil {
		e.StepsCompleted = []entity.Step{}
	}

	metrics.ObserveRequest(string(e.Result), string(e.ErrorCode))

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	if err := r.store.Append(wctx, e); err != nil {
		metrics.AuditWriteFailed()
		slog.ErrorContext(ctx, "audit write failed",
			"result", e.Result,
			"order_number", e.OrderNumber,
			"error", err,
		)
	}

	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(wctx, e); err != nil {
		slog.WarnContext(ctx, "audit event not published", "result", e.Result, "error", err)
	}
}
