package ports

import (
	"context"
	"time"
)

// CreateCustomerInput describes a new customer on the invoicing platform.
type CreateCustomerInput struct {
	IdempotencyKey string
	GivenName      string
	FamilyName     string
	Email          string
	ReferenceID    string
}

// CreateOrderInput describes a single-line order.
type CreateOrderInput struct {
	IdempotencyKey string
	CustomerID     string
	OrderNumber    string
	AmountCents    int64
}

// CreateInvoiceInput describes an invoice attached to an existing order.
type CreateInvoiceInput struct {
	IdempotencyKey string
	OrderID        string
	CustomerID     string
	OrderNumber    string
	DueDate        time.Time
}

// Invoice is the subset of a platform invoice the saga needs.
type Invoice struct {
	ID            string
	Version       int64
	InvoiceNumber string
	Status        string
	PublicURL     string
}

// InvoicingPlatform is the external resource client. Every write carries an
// idempotency key so a replay of the same step is a no-op on the platform.
type InvoicingPlatform interface {
	SearchCustomerByEmail(ctx context.Context, email string) (id string, found bool, err error)
	CreateCustomer(ctx context.Context, in CreateCustomerInput) (string, error)
	CreateOrder(ctx context.Context, in CreateOrderInput) (string, error)
	CreateInvoice(ctx context.Context, in CreateInvoiceInput) (*Invoice, error)
	GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error)
	PublishInvoice(ctx context.Context, invoiceID string, version int64, idempotencyKey string) (*Invoice, error)
}

// PlatformError is a non-2xx answer from the invoicing platform.
type PlatformError struct {
	Operation string
	Status    int
	Code      string
	Detail    string
}

func (e *PlatformError) Error() string {
	if e.Code != "" {
		return e.Operation + ": " + e.Code + ": " + e.Detail
	}
	return e.Operation + ": " + e.Detail
}
