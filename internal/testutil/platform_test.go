package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/ports"
)

func TestFakePlatform_RejectsReusedKeyWithDifferentBody(t *testing.T) {
	ctx := context.Background()
	p := NewFakePlatform()
	due := time.Date(2026, 11, 15, 0, 0, 0, 0, time.UTC)
	in := ports.CreateInvoiceInput{IdempotencyKey: "inv-7600", OrderID: "ORD_1", CustomerID: "CUST_1", OrderNumber: "7600", DueDate: due}

	first, err := p.CreateInvoice(ctx, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	again, err := p.CreateInvoice(ctx, in)
	if err != nil || again.ID != first.ID {
		t.Fatalf("same body replay = %+v, %v", again, err)
	}

	in.DueDate = due.AddDate(0, 0, 1)
	_, err = p.CreateInvoice(ctx, in)
	var perr *ports.PlatformError
	if !errors.As(err, &perr) || perr.Code != "IDEMPOTENCY_KEY_REUSED" {
		t.Fatalf("err = %v, want IDEMPOTENCY_KEY_REUSED", err)
	}
	if n := p.CreatedCount("invoice"); n != 1 {
		t.Errorf("invoices created = %d", n)
	}
}

func TestFakePlatform_PublishKeyBoundToVersion(t *testing.T) {
	ctx := context.Background()
	p := NewFakePlatform()
	inv, _ := p.CreateInvoice(ctx, ports.CreateInvoiceInput{IdempotencyKey: "inv-1", OrderID: "ORD_1"})

	published, err := p.PublishInvoice(ctx, inv.ID, inv.Version, "pub-1")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := p.PublishInvoice(ctx, inv.ID, published.Version, "pub-1"); err == nil {
		t.Fatal("expected a reused publish key with a new version to fail")
	}
}
