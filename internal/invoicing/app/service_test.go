package app

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/jcmexdev/invoice-gateway/internal/coordinator"
	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/audit"
	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/auth"
	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/domain/entity"
	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/guard"
	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/ports"
	"github.com/jcmexdev/invoice-gateway/internal/invoicing/infra/adapters/storage/sqlite"
	"github.com/jcmexdev/invoice-gateway/internal/testutil"
)

var base = time.Date(2026, 10, 16, 14, 0, 0, 0, time.UTC)

// tokenVerifier accepts "token-<user>", fails "outage" as unreachable and
// rejects everything else.
type tokenVerifier struct{}

func (tokenVerifier) Verify(_ context.Context, token string) (entity.Caller, error) {
	if user, ok := strings.CutPrefix(token, "token-"); ok {
		return entity.Caller{ID: user, Email: user + "@example.org"}, nil
	}
	if token == "outage" {
		return entity.Caller{}, errors.New("identity provider returned 503")
	}
	if token == "expired" {
		return entity.Caller{}, &ports.VerificationError{Status: 401, Message: "token is expired"}
	}
	return entity.Caller{}, &ports.VerificationError{Status: 401, Message: "invalid JWT"}
}

type harness struct {
	svc      *Service
	store    *sqlite.Store
	platform *testutil.FakePlatform
}

func newHarness(t *testing.T, userLimit, globalLimit int) *harness {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "invoices.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	for _, user := range []string{"user-1", "user-2"} {
		if err := store.GrantRole(context.Background(), user, auth.RoleInvoicer, base); err != nil {
			t.Fatalf("grant role: %v", err)
		}
	}

	now := func() time.Time { return base }
	platform := testutil.NewFakePlatform()
	svc := NewService(
		auth.NewGate(tokenVerifier{}),
		auth.NewAuthorizer(store, nil, 0),
		guard.NewValidator(1_000_000),
		guard.NewReplayGuard(guard.DefaultMaxAge, guard.DefaultMaxSkew, now),
		guard.NewRateLimiter(store, userLimit, globalLimit, now),
		store,
		coordinator.NewOrchestrator(coordinator.InvoiceSteps(platform, now), store, time.Second, now),
		audit.NewRecorder(store, nil, time.Second, now),
		Options{StoreTimeout: time.Second, Now: now},
	)
	return &harness{svc: svc, store: store, platform: platform}
}

func strp(s string) *string { return &s }

func janeDoe(orderNumber string) *entity.RawInvoiceRequest {
	return &entity.RawInvoiceRequest{
		OrderNumber:      strp(orderNumber),
		CustomerName:     strp("Jane Doe"),
		CustomerEmail:    strp("jane@example.org"),
		AmountCents:      strp("3250"),
		RequestTimestamp: strp(base.Format(time.RFC3339Nano)),
	}
}

func asUser(user string) entity.RequestContext {
	return entity.RequestContext{
		Authorization: "Bearer token-" + user,
		Client:        entity.ClientInfo{IP: "203.0.113.7", UserAgent: "invoice-extension/1.0"},
		ReceivedAt:    base,
	}
}

func (h *harness) auditFor(t *testing.T, correlationID string) entity.AuditEntry {
	t.Helper()
	entries, err := h.store.ListByCorrelation(context.Background(), correlationID)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one audit entry for %s, got %d", correlationID, len(entries))
	}
	return entries[0]
}

func TestCreateInvoice_EndToEnd(t *testing.T) {
	h := newHarness(t, 10, 50)

	out := h.svc.CreateInvoice(context.Background(), asUser("user-1"), janeDoe("7600"))
	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	res := out.Result
	if res.OrderNumber != "7600" || res.CustomerID == "" || res.OrderID == "" || res.InvoiceID == "" || res.InvoiceNumber == "" {
		t.Errorf("result not fully populated: %+v", res)
	}
	if out.CorrelationID == "" {
		t.Error("correlation id missing")
	}

	rec, err := h.store.Get(context.Background(), "7600")
	if err != nil {
		t.Fatalf("ledger get: %v", err)
	}
	if rec.Status != entity.StatusCompleted || rec.CompletedAt == nil {
		t.Errorf("ledger status = %s completed_at=%v", rec.Status, rec.CompletedAt)
	}
	if rec.InvoiceID != res.InvoiceID || rec.CreatedBy != "user-1" {
		t.Errorf("ledger record = %+v", rec)
	}

	entry := h.auditFor(t, out.CorrelationID)
	if entry.Result != entity.ResultSuccess || entry.UserID != "user-1" || entry.OrderNumber != "7600" {
		t.Errorf("audit entry = %+v", entry)
	}
	if entry.Metadata["ip"] != "203.0.113.7" {
		t.Errorf("audit metadata = %v", entry.Metadata)
	}
}

func TestCreateInvoice_DuplicateAfterCompletion(t *testing.T) {
	h := newHarness(t, 10, 50)
	ctx := context.Background()

	first := h.svc.CreateInvoice(ctx, asUser("user-1"), janeDoe("7600"))
	if first.Err != nil {
		t.Fatalf("first request: %v", first.Err)
	}

	second := h.svc.CreateInvoice(ctx, asUser("user-1"), janeDoe("7600"))
	if second.Err == nil || second.Err.Code != entity.CodeDuplicateOrder {
		t.Fatalf("expected DUPLICATE_ORDER, got %+v", second)
	}
	if !strings.Contains(second.Err.Message, first.Result.InvoiceID) {
		t.Errorf("message should reference the existing invoice: %q", second.Err.Message)
	}
	if n := h.platform.CreatedCount("invoice"); n != 1 {
		t.Errorf("invoices created = %d, want 1", n)
	}
	if entry := h.auditFor(t, second.CorrelationID); entry.Result != entity.ResultDuplicateBlocked {
		t.Errorf("audit result = %s", entry.Result)
	}
}

func TestCreateInvoice_OrderStepFailureThenRetry(t *testing.T) {
	h := newHarness(t, 10, 50)
	ctx := context.Background()
	h.platform.SetFailure("order", true)

	out := h.svc.CreateInvoice(ctx, asUser("user-1"), janeDoe("7600"))
	if out.Err == nil || out.Err.Code != entity.CodeSquareOrder {
		t.Fatalf("expected SQUARE_ORDER_ERROR, got %+v", out)
	}
	if !strings.Contains(out.Err.Message, "safe to retry") {
		t.Errorf("message = %q", out.Err.Message)
	}

	rec, err := h.store.Get(ctx, "7600")
	if err != nil {
		t.Fatalf("ledger get: %v", err)
	}
	if rec.Status != entity.StatusFailed || rec.ErrorMessage != "order unavailable" {
		t.Errorf("ledger = %s %q", rec.Status, rec.ErrorMessage)
	}
	want := []entity.Step{entity.StepCustomerSearch, entity.StepCustomerCreated}
	if len(rec.StepsCompleted) != len(want) || rec.StepsCompleted[0] != want[0] || rec.StepsCompleted[1] != want[1] {
		t.Errorf("steps = %v, want %v", rec.StepsCompleted, want)
	}
	if rec.HasStep(entity.StepOrderCreated) {
		t.Error("order step must not be recorded")
	}
	entry := h.auditFor(t, out.CorrelationID)
	if entry.Result != entity.ResultFailure || entry.ErrorCode != entity.CodeSquareOrder {
		t.Errorf("audit = %s %s", entry.Result, entry.ErrorCode)
	}

	h.platform.SetFailure("order", false)
	retry := h.svc.CreateInvoice(ctx, asUser("user-1"), janeDoe("7600"))
	if retry.Err != nil {
		t.Fatalf("retry failed: %v", retry.Err)
	}
	if n := h.platform.CreatedCount("customer"); n != 1 {
		t.Errorf("customers created = %d, want 1", n)
	}
	rec, _ = h.store.Get(ctx, "7600")
	if rec.Status != entity.StatusCompleted {
		t.Errorf("status after retry = %s", rec.Status)
	}
}

func TestCreateInvoice_ConcurrentSameOrder(t *testing.T) {
	h := newHarness(t, 10, 50)

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		outs  = make([]Outcome, 2)
	)
	for i := range outs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			outs[i] = h.svc.CreateInvoice(context.Background(), asUser("user-1"), janeDoe("7600"))
		}(i)
	}
	close(start)
	wg.Wait()

	var ok, dup int
	for _, o := range outs {
		switch {
		case o.Err == nil:
			ok++
		case o.Err.Code == entity.CodeDuplicateOrder:
			dup++
		default:
			t.Errorf("unexpected outcome: %+v", o.Err)
		}
	}
	if ok != 1 || dup != 1 {
		t.Fatalf("ok=%d dup=%d, want 1 and 1", ok, dup)
	}
	if n := h.platform.CreatedCount("invoice"); n != 1 {
		t.Errorf("invoices created = %d, want 1", n)
	}
	rec, err := h.store.Get(context.Background(), "7600")
	if err != nil || rec.Status != entity.StatusCompleted {
		t.Errorf("ledger = %+v, %v", rec, err)
	}
}

func TestCreateInvoice_Rejections(t *testing.T) {
	stale := janeDoe("R-3")
	stale.RequestTimestamp = strp(base.Add(-121 * time.Second).Format(time.RFC3339Nano))
	badAmount := janeDoe("R-4")
	badAmount.AmountCents = strp("32.50")

	tests := []struct {
		name       string
		rc         entity.RequestContext
		raw        *entity.RawInvoiceRequest
		wantCode   entity.ErrorCode
		wantResult entity.AuditResult
	}{
		{"no header", entity.RequestContext{}, janeDoe("R-1"), entity.CodeAuthMissing, entity.ResultAuthMissing},
		{"invalid token", entity.RequestContext{Authorization: "Bearer nope"}, janeDoe("R-1"), entity.CodeAuthInvalid, entity.ResultUnauthorized},
		{"expired token", entity.RequestContext{Authorization: "Bearer expired"}, janeDoe("R-1"), entity.CodeAuthExpired, entity.ResultUnauthorized},
		{"no role", asUser("user-9"), janeDoe("R-1"), entity.CodeUnauthorized, entity.ResultUnauthorized},
		{"undecodable body", asUser("user-1"), nil, entity.CodeInvalidRequest, entity.ResultValidationFailed},
		{"fractional amount", asUser("user-1"), badAmount, entity.CodeInvalidAmount, entity.ResultValidationFailed},
		{"stale timestamp", asUser("user-1"), stale, entity.CodeReplayRejected, entity.ResultReplayRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 10, 50)
			out := h.svc.CreateInvoice(context.Background(), tt.rc, tt.raw)
			if out.Err == nil || out.Err.Code != tt.wantCode {
				t.Fatalf("got %+v, want %s", out.Err, tt.wantCode)
			}
			if entry := h.auditFor(t, out.CorrelationID); entry.Result != tt.wantResult {
				t.Errorf("audit result = %s, want %s", entry.Result, tt.wantResult)
			}
			if calls := h.platform.Count("search"); calls != 0 {
				t.Errorf("platform called %d times", calls)
			}
		})
	}
}

func TestCreateInvoice_UserRateLimit(t *testing.T) {
	h := newHarness(t, 2, 50)
	ctx := context.Background()

	for i, order := range []string{"A-1", "A-2"} {
		if out := h.svc.CreateInvoice(ctx, asUser("user-1"), janeDoe(order)); out.Err != nil {
			t.Fatalf("request %d rejected: %v", i+1, out.Err)
		}
	}

	out := h.svc.CreateInvoice(ctx, asUser("user-1"), janeDoe("A-3"))
	if out.Err == nil || out.Err.Code != entity.CodeRateLimitedUser || out.Err.RetryAfter != 3600 {
		t.Fatalf("expected RATE_LIMITED_USER, got %+v", out.Err)
	}
	if entry := h.auditFor(t, out.CorrelationID); entry.Result != entity.ResultRateLimited {
		t.Errorf("audit result = %s", entry.Result)
	}
	if _, err := h.store.Get(ctx, "A-3"); !errors.Is(err, ports.ErrOrderNotFound) {
		t.Errorf("rate-limited request touched the ledger: %v", err)
	}
}

func TestCreateInvoice_GlobalRateLimit(t *testing.T) {
	h := newHarness(t, 10, 3)
	ctx := context.Background()

	requests := []struct{ user, order string }{
		{"user-1", "G-1"},
		{"user-1", "G-2"},
		{"user-2", "G-3"},
	}
	for _, r := range requests {
		if out := h.svc.CreateInvoice(ctx, asUser(r.user), janeDoe(r.order)); out.Err != nil {
			t.Fatalf("%s rejected: %v", r.order, out.Err)
		}
	}

	out := h.svc.CreateInvoice(ctx, asUser("user-2"), janeDoe("G-4"))
	if out.Err == nil || out.Err.Code != entity.CodeRateLimitedGlobal || out.Err.RetryAfter != 300 {
		t.Fatalf("expected RATE_LIMITED_GLOBAL, got %+v", out.Err)
	}
}

func TestCreateInvoice_SingleTracePerRequest(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithSpanProcessor(sr),
	)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	h := newHarness(t, 10, 50)
	out := h.svc.CreateInvoice(context.Background(), asUser("user-1"), janeDoe("7600"))
	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}

	spans := sr.Ended()
	if len(spans) < 6 {
		t.Fatalf("ended spans = %d, want the request span and five step spans", len(spans))
	}
	var root sdktrace.ReadOnlySpan
	traceID := spans[0].SpanContext().TraceID()
	for _, sp := range spans {
		if sp.SpanContext().TraceID() != traceID {
			t.Errorf("span %q is in trace %s, want %s", sp.Name(), sp.SpanContext().TraceID(), traceID)
		}
		if sp.Name() == "CreateInvoice" {
			root = sp
		}
	}
	if root == nil {
		t.Fatal("no CreateInvoice span")
	}

	entry := h.auditFor(t, out.CorrelationID)
	if entry.TraceID != traceID.String() {
		t.Errorf("audit trace_id = %q, want %s", entry.TraceID, traceID)
	}
	if entry.SpanID != root.SpanContext().SpanID().String() {
		t.Errorf("audit span_id = %q, want %s", entry.SpanID, root.SpanContext().SpanID())
	}
}

func TestCreateInvoice_IdentityOutageIsNotRateCounted(t *testing.T) {
	h := newHarness(t, 10, 1)
	ctx := context.Background()

	out := h.svc.CreateInvoice(ctx, entity.RequestContext{Authorization: "Bearer outage"}, janeDoe("O-1"))
	if out.Err == nil || out.Err.Code != entity.CodeInternal {
		t.Fatalf("expected INTERNAL_ERROR, got %+v", out.Err)
	}
	if entry := h.auditFor(t, out.CorrelationID); entry.Result != entity.ResultError {
		t.Errorf("audit result = %s, want %s", entry.Result, entity.ResultError)
	}

	if next := h.svc.CreateInvoice(ctx, asUser("user-1"), janeDoe("O-2")); next.Err != nil {
		t.Fatalf("request after outage rejected: %+v", next.Err)
	}
}
