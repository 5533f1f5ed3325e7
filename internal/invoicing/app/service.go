// Package app runs the invoice request pipeline: authentication,
// authorization, validation, replay and rate-limit gates, the ledger claim
// and the saga, writing one audit entry on every exit.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jcmexdev/invoice-gateway/internal/coordinator"
	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/audit"
	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/auth"
	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/domain/entity"
	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/guard"
	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/ports"
	"github.com/jcmexdev/invoice-gateway/internal/pkg/correlation"
)

const tracerName = "invoice-gateway/app"

const (
	defaultStoreTimeout = 5 * time.Second
	defaultStaleAfter   = 10 * time.Minute
)

// Outcome is the result of one invoice request. Exactly one of Result and
// Err is set.
type Outcome struct {
	CorrelationID string
	Result        *entity.InvoiceResult
	Err           *entity.AppError
}

type Options struct {
	// StoreTimeout bounds each ledger and role lookup.
	StoreTimeout time.Duration
	// StaleAfter is how long a processing record may sit untouched before a
	// new request may take it over.
	StaleAfter time.Duration
	Now        func() time.Time
}

type Service struct {
	gate       *auth.Gate
	authorizer *auth.Authorizer
	validator  *guard.Validator
	replay     *guard.ReplayGuard
	limiter    *guard.RateLimiter
	ledger     ports.Ledger
	saga       *coordinator.Orchestrator
	audit      *audit.Recorder

	storeTimeout time.Duration
	staleAfter   time.Duration
	now          func() time.Time
}

func NewService(
	gate *auth.Gate,
	authorizer *auth.Authorizer,
	validator *guard.Validator,
	replay *guard.ReplayGuard,
	limiter *guard.RateLimiter,
	ledger ports.Ledger,
	saga *coordinator.Orchestrator,
	recorder *audit.Recorder,
	opts Options,
) *Service {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultStoreTimeout
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = defaultStaleAfter
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		gate:         gate,
		authorizer:   authorizer,
		validator:    validator,
		replay:       replay,
		limiter:      limiter,
		ledger:       ledger,
		saga:         saga,
		audit:        recorder,
		storeTimeout: opts.StoreTimeout,
		staleAfter:   opts.StaleAfter,
		now:          opts.Now,
	}
}

// CreateInvoice handles one request. raw is nil when the body could not be
// decoded.
func (s *Service) CreateInvoice(ctx context.Context, rc entity.RequestContext, raw *entity.RawInvoiceRequest) Outcome {
	if rc.CorrelationID == "" {
		rc.CorrelationID = correlation.NewID()
	}
	ctx = correlation.WithID(ctx, rc.CorrelationID)

	ctx, span := otel.Tracer(tracerName).Start(ctx, "CreateInvoice",
		trace.WithAttributes(attribute.String("correlation.id", rc.CorrelationID)))
	defer span.End()

	entry := &entity.AuditEntry{
		CorrelationID: rc.CorrelationID,
		Metadata:      clientMetadata(rc),
	}
	snapshotRaw(entry, raw)

	caller, appErr, err := s.authenticate(ctx, rc.Authorization)
	if err != nil {
		return s.internal(ctx, entry, entity.ResultError, "authenticate", err)
	}
	if appErr != nil {
		result := entity.ResultUnauthorized
		if appErr.Code == entity.CodeAuthMissing {
			result = entity.ResultAuthMissing
		}
		return s.reject(ctx, entry, result, appErr)
	}
	entry.UserID, entry.UserEmail = caller.ID, caller.Email

	appErr, err = s.authorize(ctx, caller.ID)
	if err != nil {
		return s.internal(ctx, entry, entity.ResultError, "authorize", err)
	}
	if appErr != nil {
		return s.reject(ctx, entry, entity.ResultUnauthorized, appErr)
	}

	if raw == nil {
		return s.reject(ctx, entry, entity.ResultValidationFailed,
			entity.NewAppError(entity.CodeInvalidRequest, "request body must be a JSON object"))
	}
	req, appErr := s.validator.Validate(*raw)
	if appErr != nil {
		return s.reject(ctx, entry, entity.ResultValidationFailed, appErr)
	}
	entry.OrderNumber = req.OrderNumber
	entry.CustomerName = req.CustomerName
	entry.CustomerEmail = req.CustomerEmail
	entry.AmountCents = req.AmountCents

	if appErr := s.replay.Check(req.RequestTimestamp); appErr != nil {
		return s.reject(ctx, entry, entity.ResultReplayRejected, appErr)
	}

	appErr, err = s.checkRate(ctx, caller.ID)
	if err != nil {
		return s.internal(ctx, entry, entity.ResultError, "rate limit", err)
	}
	if appErr != nil {
		return s.reject(ctx, entry, entity.ResultRateLimited, appErr)
	}

	rec, appErr, err := s.claim(ctx, req, caller.ID)
	if err != nil {
		return s.internal(ctx, entry, entity.ResultError, "ledger claim", err)
	}
	if appErr != nil {
		return s.reject(ctx, entry, entity.ResultDuplicateBlocked, appErr)
	}

	return s.runSaga(ctx, entry, rec)
}

func (s *Service) authenticate(ctx context.Context, header string) (entity.Caller, *entity.AppError, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.gate.Authenticate(ctx, header)
}

func (s *Service) authorize(ctx context.Context, userID string) (*entity.AppError, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.authorizer.Authorize(ctx, userID)
}

func (s *Service) checkRate(ctx context.Context, userID string) (*entity.AppError, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.limiter.Check(ctx, userID)
}

// claim inserts a new ledger record or reopens a retryable one. The storage
// uniqueness constraint decides races between concurrent first requests.
func (s *Service) claim(ctx context.Context, req entity.InvoiceRequest, userID string) (*entity.OrderRecord, *entity.AppError, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	now := s.now().UTC()
	rec, err := s.ledger.Get(ctx, req.OrderNumber)
	switch {
	case errors.Is(err, ports.ErrOrderNotFound):
		rec = entity.NewOrderRecord(req, userID, now)
		err = s.ledger.Create(ctx, rec)
		if errors.Is(err, ports.ErrDuplicateOrder) {
			return nil, inFlight(req.OrderNumber), nil
		}
		if err != nil {
			return nil, nil, err
		}
		return rec, nil, nil

	case err != nil:
		return nil, nil, err

	case rec.Status == entity.StatusCompleted:
		return nil, alreadyInvoiced(rec), nil
	}

	if err := s.ledger.Reopen(ctx, req.OrderNumber, now, now.Add(-s.staleAfter)); err != nil {
		if errors.Is(err, ports.ErrDuplicateOrder) {
			if rec.Status == entity.StatusProcessing {
				return nil, inFlight(req.OrderNumber), nil
			}
			// Completed between Get and Reopen.
			return nil, alreadyInvoiced(rec), nil
		}
		return nil, nil, err
	}

	if rec.AmountCents != req.AmountCents || rec.CustomerEmail != req.CustomerEmail {
		slog.WarnContext(ctx, "retry differs from the original order snapshot; using the ledger copy",
			"order_number", rec.OrderNumber,
		)
	}
	rec.Status = entity.StatusProcessing
	rec.UpdatedAt = now
	return rec, nil, nil
}

func (s *Service) runSaga(ctx context.Context, entry *entity.AuditEntry, rec *entity.OrderRecord) Outcome {
	st := &coordinator.State{Record: rec}
	err := s.saga.Start(ctx, st)
	entry.StepsCompleted = append([]entity.Step(nil), rec.StepsCompleted...)

	var sagaErr *coordinator.SagaError
	if errors.As(err, &sagaErr) {
		msg := fmt.Sprintf("invoice creation for order %s failed at %s; it is safe to retry",
			rec.OrderNumber, sagaErr.Step)
		appErr := &entity.AppError{
			Code:    sagaErr.Code(),
			Message: msg,
			Detail:  sagaErr.Detail(),
		}
		entry.Metadata["failed_step"] = sagaErr.Step
		return s.finish(ctx, entry, entity.ResultFailure, appErr, nil)
	}
	if err != nil {
		return s.internal(ctx, entry, entity.ResultFailure, "saga", err)
	}

	result := &entity.InvoiceResult{
		OrderNumber: rec.OrderNumber,
		CustomerID:  rec.CustomerID,
		OrderID:     rec.SquareOrderID,
		InvoiceID:   rec.InvoiceID,
	}
	if st.Invoice != nil {
		result.InvoiceNumber = st.Invoice.InvoiceNumber
		result.PublicURL = st.Invoice.PublicURL
	}
	return s.finish(ctx, entry, entity.ResultSuccess, nil, result)
}

func (s *Service) reject(ctx context.Context, entry *entity.AuditEntry, result entity.AuditResult, appErr *entity.AppError) Outcome {
	return s.finish(ctx, entry, result, appErr, nil)
}

// internal reports an unexpected failure. Failures before the ledger claim
// are recorded as ResultError so they never count toward the rate limits;
// once an order is claimed they are a FAILURE like any other attempt.
func (s *Service) internal(ctx context.Context, entry *entity.AuditEntry, result entity.AuditResult, stage string, err error) Outcome {
	slog.ErrorContext(ctx, "invoice request failed", "stage", stage, "error", err)
	appErr := &entity.AppError{
		Code:    entity.CodeInternal,
		Message: "an internal error occurred, please retry later",
		Detail:  stage + ": " + err.Error(),
	}
	return s.finish(ctx, entry, result, appErr, nil)
}

// finish writes the audit entry and logs the terminal outcome.
func (s *Service) finish(ctx context.Context, entry *entity.AuditEntry, result entity.AuditResult, appErr *entity.AppError, res *entity.InvoiceResult) Outcome {
	entry.Result = result
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("audit.result", string(result)))
	if appErr != nil {
		span.SetStatus(codes.Error, string(appErr.Code))
		entry.ErrorCode = appErr.Code
		entry.ErrorMessage = appErr.Message
		if appErr.Detail != "" {
			entry.ErrorMessage = appErr.Message + " (" + appErr.Detail + ")"
		}
	}
	s.audit.Record(ctx, entry)

	if appErr != nil {
		slog.WarnContext(ctx, "invoice request rejected",
			"result", result,
			"code", appErr.Code,
			"order_number", entry.OrderNumber,
			"user_id", entry.UserID,
		)
	} else {
		slog.InfoContext(ctx, "invoice created",
			"order_number", res.OrderNumber,
			"invoice_id", res.InvoiceID,
			"user_id", entry.UserID,
		)
	}
	return Outcome{CorrelationID: entry.CorrelationID, Result: res, Err: appErr}
}

func inFlight(orderNumber string) *entity.AppError {
	return entity.NewAppError(entity.CodeDuplicateOrder,
		fmt.Sprintf("order %s is already being processed", orderNumber))
}

func alreadyInvoiced(rec *entity.OrderRecord) *entity.AppError {
	msg := fmt.Sprintf("order %s has already been invoiced", rec.OrderNumber)
	if rec.InvoiceID != "" {
		msg += " (invoice " + rec.InvoiceID + ")"
	}
	return entity.NewAppError(entity.CodeDuplicateOrder, msg)
}

func clientMetadata(rc entity.RequestContext) map[string]any {
	md := map[string]any{}
	if rc.Client.IP != "" {
		md["ip"] = rc.Client.IP
	}
	if rc.Client.UserAgent != "" {
		md["user_agent"] = rc.Client.UserAgent
	}
	if !rc.ReceivedAt.IsZero() {
		md["received_at"] = rc.ReceivedAt.UTC().Format(time.RFC3339Nano)
	}
	return md
}

// snapshotRaw copies whatever order context the unvalidated body carries so
// rejected requests are still traceable.
func snapshotRaw(entry *entity.AuditEntry, raw *entity.RawInvoiceRequest) {
	if raw == nil {
		return
	}
	entry.OrderNumber = deref(raw.OrderNumber)
	entry.CustomerName = deref(raw.CustomerName)
	entry.CustomerEmail = deref(raw.CustomerEmail)
	entry.RequestTimestamp = deref(raw.RequestTimestamp)
	if n, err := strconv.ParseInt(deref(raw.AmountCents), 10, 64); err == nil {
		entry.AmountCents = n
	}
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}
