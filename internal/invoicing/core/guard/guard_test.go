package guard

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/domain/entity"
)

func strp(s string) *string { return &s }

func validRaw() entity.RawInvoiceRequest {
	return entity.RawInvoiceRequest{
		OrderNumber:      strp("7600"),
		CustomerName:     strp("Jane Doe"),
		CustomerEmail:    strp("jane@example.org"),
		AmountCents:      strp("3250"),
		RequestTimestamp: strp("2026-10-16T12:00:00.000Z"),
	}
}

func TestValidator_Valid(t *testing.T) {
	v := NewValidator(1_000_000)

	req, appErr := v.Validate(validRaw())
	if appErr != nil {
		t.Fatalf("unexpected error: %v", appErr)
	}
	if req.OrderNumber != "7600" || req.AmountCents != 3250 || req.CustomerEmail != "jane@example.org" {
		t.Errorf("unexpected request: %+v", req)
	}
}

func TestValidator_MissingFieldsListed(t *testing.T) {
	v := NewValidator(1_000_000)
	raw := validRaw()
	raw.CustomerName = nil
	raw.AmountCents = strp("  ")

	_, appErr := v.Validate(raw)
	if appErr == nil || appErr.Code != entity.CodeMissingField {
		t.Fatalf("expected %s, got %v", entity.CodeMissingField, appErr)
	}
	for _, field := range []string{"customer_name", "amount_cents"} {
		if !strings.Contains(appErr.Message, field) {
			t.Errorf("message %q should list %s", appErr.Message, field)
		}
	}
}

func TestValidator_Rules(t *testing.T) {
	const ceiling = 500_000
	tests := []struct {
		name   string
		mutate func(*entity.RawInvoiceRequest)
		want   entity.ErrorCode
	}{
		{"order with space", func(r *entity.RawInvoiceRequest) { r.OrderNumber = strp("76 00") }, entity.CodeInvalidOrder},
		{"order too long", func(r *entity.RawInvoiceRequest) { r.OrderNumber = strp(strings.Repeat("A", 51)) }, entity.CodeInvalidOrder},
		{"order max length", func(r *entity.RawInvoiceRequest) { r.OrderNumber = strp(strings.Repeat("A", 50)) }, ""},
		{"order with hyphen", func(r *entity.RawInvoiceRequest) { r.OrderNumber = strp("PO-12-a") }, ""},
		{"email without tld", func(r *entity.RawInvoiceRequest) { r.CustomerEmail = strp("jane@example") }, entity.CodeInvalidEmail},
		{"email without at", func(r *entity.RawInvoiceRequest) { r.CustomerEmail = strp("jane.example.org") }, entity.CodeInvalidEmail},
		{"zero amount", func(r *entity.RawInvoiceRequest) { r.AmountCents = strp("0") }, entity.CodeInvalidAmount},
		{"negative amount", func(r *entity.RawInvoiceRequest) { r.AmountCents = strp("-5") }, entity.CodeInvalidAmount},
		{"fractional amount", func(r *entity.RawInvoiceRequest) { r.AmountCents = strp("32.5") }, entity.CodeInvalidAmount},
		{"amount at ceiling", func(r *entity.RawInvoiceRequest) { r.AmountCents = strp(strconv.Itoa(ceiling)) }, ""},
		{"amount above ceiling", func(r *entity.RawInvoiceRequest) { r.AmountCents = strp(strconv.Itoa(ceiling + 1)) }, entity.CodeInvalidAmount},
	}

	v := NewValidator(ceiling)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := validRaw()
			tt.mutate(&raw)
			_, appErr := v.Validate(raw)
			if tt.want == "" {
				if appErr != nil {
					t.Fatalf("expected success, got %v", appErr)
				}
				return
			}
			if appErr == nil || appErr.Code != tt.want {
				t.Fatalf("expected %s, got %v", tt.want, appErr)
			}
		})
	}
}

func TestReplayGuard_Window(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	g := NewReplayGuard(DefaultMaxAge, DefaultMaxSkew, func() time.Time { return now })

	tests := []struct {
		name   string
		age    time.Duration
		accept bool
	}{
		{"fresh", 0, true},
		{"at max age", 120 * time.Second, true},
		{"just past max age", 120*time.Second + 100*time.Millisecond, false},
		{"at max skew", -30 * time.Second, true},
		{"just past max skew", -30*time.Second - 100*time.Millisecond, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := now.Add(-tt.age).Format(time.RFC3339Nano)
			appErr := g.Check(ts)
			if tt.accept && appErr != nil {
				t.Fatalf("expected accept, got %v", appErr)
			}
			if !tt.accept && (appErr == nil || appErr.Code != entity.CodeReplayRejected) {
				t.Fatalf("expected %s, got %v", entity.CodeReplayRejected, appErr)
			}
		})
	}
}

func TestReplayGuard_Unparseable(t *testing.T) {
	g := NewReplayGuard(DefaultMaxAge, DefaultMaxSkew, nil)
	if appErr := g.Check("yesterday"); appErr == nil || appErr.Code != entity.CodeReplayRejected {
		t.Fatalf("expected %s, got %v", entity.CodeReplayRejected, appErr)
	}
}

// countingStore is an AuditStore returning fixed counts.
type countingStore struct {
	userCount   int
	globalCount int
	err         error
}

func (s *countingStore) Append(context.Context, *entity.AuditEntry) error { return nil }

func (s *countingStore) CountByUser(context.Context, string, time.Time, []entity.AuditResult) (int, error) {
	return s.userCount, s.err
}

func (s *countingStore) CountGlobal(context.Context, time.Time, []entity.AuditResult) (int, error) {
	return s.globalCount, s.err
}

func TestRateLimiter(t *testing.T) {
	tests := []struct {
		name      string
		user      int
		global    int
		wantCode  entity.ErrorCode
		wantRetry int
	}{
		{"under both", 9, 49, "", 0},
		{"user at threshold", 10, 0, entity.CodeRateLimitedUser, 3600},
		{"global at threshold", 0, 50, entity.CodeRateLimitedGlobal, 300},
		{"both exceeded reports user", 12, 80, entity.CodeRateLimitedUser, 3600},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewRateLimiter(&countingStore{userCount: tt.user, globalCount: tt.global}, 10, 50, nil)
			appErr, err := l.Check(context.Background(), "user-1")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantCode == "" {
				if appErr != nil {
					t.Fatalf("expected no limit, got %v", appErr)
				}
				return
			}
			if appErr == nil || appErr.Code != tt.wantCode || appErr.RetryAfter != tt.wantRetry {
				t.Fatalf("expected %s/%d, got %+v", tt.wantCode, tt.wantRetry, appErr)
			}
		})
	}
}

func TestRateLimiter_StoreError(t *testing.T) {
	l := NewRateLimiter(&countingStore{err: errors.New("db down")}, 10, 50, nil)
	if _, err := l.Check(context.Background(), "user-1"); err == nil {
		t.Fatal("expected error")
	}
}
