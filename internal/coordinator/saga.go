package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/domain/entity"
	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/ports"
	"github.com/jcmexdev/invoice-gateway/internal/pkg/metrics"
)

// Progress is the last saga milestone reached in the current attempt.
type Progress int

const (
	ProgressNone Progress = iota
	ProgressCustomerSearched
	ProgressCustomerResolved
	ProgressOrderCreated
	ProgressInvoiceCreated
	ProgressInvoicePublished
)

func (p Progress) String() string {
	switch p {
	case ProgressNone:
		return "none"
	case ProgressCustomerSearched:
		return "customer_searched"
	case ProgressCustomerResolved:
		return "customer_resolved"
	case ProgressOrderCreated:
		return "order_created"
	case ProgressInvoiceCreated:
		return "invoice_created"
	case ProgressInvoicePublished:
		return "invoice_published"
	}
	return fmt.Sprintf("progress(%d)", int(p))
}

// FailureCode maps the last completed milestone to the error code of the
// step that was running when the saga failed.
func FailureCode(p Progress) entity.ErrorCode {
	switch p {
	case ProgressNone, ProgressCustomerSearched:
		return entity.CodeSquareCustomer
	case ProgressCustomerResolved:
		return entity.CodeSquareOrder
	case ProgressOrderCreated:
		return entity.CodeSquareInvoice
	case ProgressInvoiceCreated:
		return entity.CodeSquarePublish
	case ProgressInvoicePublished:
		// Every platform call succeeded; only the ledger write can fail here.
		return entity.CodeInternal
	}
	return entity.CodeInternal
}

// State is the mutable context shared by the steps of one saga attempt.
type State struct {
	Record   *entity.OrderRecord
	Progress Progress
	Invoice  *ports.Invoice

	// customerFound is set by the search step when the email already exists.
	customerFound bool
}

func (s *State) advance(p Progress, step entity.Step) {
	s.Progress = p
	s.Record.AddStep(step)
}

// Step is a single call (or call pair) against the invoicing platform. Steps
// have no compensation: a failed saga is retried from the start and every
// write is idempotent on the platform.
type Step interface {
	Name() string
	Execute(ctx context.Context, st *State) error
}

// SagaError reports a failed step together with the progress reached.
type SagaError struct {
	Step     string
	Progress Progress
	Err      error
}

func (e *SagaError) Error() string {
	return fmt.Sprintf("saga step %s failed after %s: %v", e.Step, e.Progress, e.Err)
}

func (e *SagaError) Unwrap() error { return e.Err }

// Code is the caller-facing error code for this failure.
func (e *SagaError) Code() entity.ErrorCode { return FailureCode(e.Progress) }

// Detail is the platform's error text, or the raw error otherwise.
func (e *SagaError) Detail() string {
	var perr *ports.PlatformError
	if errors.As(e.Err, &perr) && perr.Detail != "" {
		return perr.Detail
	}
	return e.Err.Error()
}

// Orchestrator runs the steps sequentially and checkpoints the ledger after
// each one.
type Orchestrator struct {
	steps         []Step
	ledger        ports.Ledger
	ledgerTimeout time.Duration
	now           func() time.Time
}

func NewOrchestrator(steps []Step, ledger ports.Ledger, ledgerTimeout time.Duration, now func() time.Time) *Orchestrator {
	if now == nil {
		now = time.Now
	}
	if ledgerTimeout <= 0 {
		ledgerTimeout = 5 * time.Second
	}
	return &Orchestrator{steps: steps, ledger: ledger, ledgerTimeout: ledgerTimeout, now: now}
}

// Start runs the saga for st.Record. On success the record is completed; on a
// step failure it is marked failed and a *SagaError is returned. Any other
// error means the final ledger write failed.
func (o *Orchestrator) Start(ctx context.Context, st *State) error {
	tracer := otel.Tracer("invoice-gateway/coordinator")
	rec := st.Record

	for _, step := range o.steps {
		stepCtx, span := tracer.Start(ctx, step.Name())
		span.SetAttributes(attribute.String("order.number", rec.OrderNumber))

		started := time.Now()
		err := step.Execute(stepCtx, st)
		metrics.ObserveStep(step.Name(), time.Since(started), err)

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()

			sagaErr := &SagaError{Step: step.Name(), Progress: st.Progress, Err: err}
			slog.WarnContext(ctx, "saga step failed",
				"order_number", rec.OrderNumber,
				"step", step.Name(),
				"progress", st.Progress.String(),
				"error", err,
			)

			rec.Status = entity.StatusFailed
			rec.ErrorMessage = sagaErr.Detail()
			if uerr := o.update(ctx, rec); uerr != nil {
				slog.ErrorContext(ctx, "CRITICAL: failed to mark order failed",
					"order_number", rec.OrderNumber,
					"saga_error", err,
					"ledger_error", uerr,
				)
			}
			return sagaErr
		}
		span.End()

		if err := o.update(ctx, rec); err != nil {
			// Progress checkpoints are diagnostic; the saga keeps going.
			slog.WarnContext(ctx, "ledger checkpoint failed",
				"order_number", rec.OrderNumber,
				"step", step.Name(),
				"error", err,
			)
		}
	}

	completedAt := o.now().UTC()
	rec.Status = entity.StatusCompleted
	rec.CompletedAt = &completedAt
	if err := o.update(ctx, rec); err != nil {
		return fmt.Errorf("mark order %s completed: %w", rec.OrderNumber, err)
	}

	slog.InfoContext(ctx, "saga completed successfully", "order_number", rec.OrderNumber)
	return nil
}

// update writes rec outside the caller's cancellation so a disconnecting
// client cannot leave the record without its final state.
func (o *Orchestrator) update(ctx context.Context, rec *entity.OrderRecord) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.ledgerTimeout)
	defer cancel()

	rec.UpdatedAt = o.now().UTC()
	return o.ledger.Update(ctx, rec)
}
