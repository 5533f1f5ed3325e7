package coordinator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/domain/entity"
	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/ports"
)

// PaymentTermDays is the invoice net term.
const PaymentTermDays = 30

// InvoiceStatusDraft is the platform status of an unpublished invoice.
const InvoiceStatusDraft = "DRAFT"

// InvoiceSteps returns the invoice saga in execution order.
func InvoiceSteps(platform ports.InvoicingPlatform, now func() time.Time) []Step {
	if now == nil {
		now = time.Now
	}
	return []Step{
		NewCustomerSearchStep(platform),
		NewCustomerResolveStep(platform),
		NewCreateOrderStep(platform),
		NewCreateInvoiceStep(platform, now),
		NewPublishInvoiceStep(platform),
	}
}

// --- CustomerSearchStep ---

type CustomerSearchStep struct {
	platform ports.InvoicingPlatform
}

func NewCustomerSearchStep(platform ports.InvoicingPlatform) *CustomerSearchStep {
	return &CustomerSearchStep{platform: platform}
}

func (s *CustomerSearchStep) Name() string { return "Customer_Search_Step" }

func (s *CustomerSearchStep) Execute(ctx context.Context, st *State) error {
	id, found, err := s.platform.SearchCustomerByEmail(ctx, st.Record.CustomerEmail)
	if err != nil {
		return fmt.Errorf("search customer: %w", err)
	}
	st.customerFound = found
	if found {
		st.Record.CustomerID = id
	}
	st.advance(ProgressCustomerSearched, entity.StepCustomerSearch)
	return nil
}

// --- CustomerResolveStep ---

type CustomerResolveStep struct {
	platform ports.InvoicingPlatform
}

func NewCustomerResolveStep(platform ports.InvoicingPlatform) *CustomerResolveStep {
	return &CustomerResolveStep{platform: platform}
}

func (s *CustomerResolveStep) Name() string { return "Customer_Resolve_Step" }

func (s *CustomerResolveStep) Execute(ctx context.Context, st *State) error {
	if st.customerFound {
		// A retry finds the customer an earlier attempt created; the record
		// keeps naming it created.
		step := entity.StepCustomerFound
		if st.Record.HasStep(entity.StepCustomerCreated) {
			step = entity.StepCustomerCreated
		}
		st.advance(ProgressCustomerResolved, step)
		return nil
	}

	given, family := SplitName(st.Record.CustomerName)
	id, err := s.platform.CreateCustomer(ctx, ports.CreateCustomerInput{
		IdempotencyKey: st.Record.StepKey(entity.KeyPrefixCustomer),
		GivenName:      given,
		FamilyName:     family,
		Email:          st.Record.CustomerEmail,
		ReferenceID:    st.Record.OrderNumber,
	})
	if err != nil {
		return fmt.Errorf("create customer: %w", err)
	}
	st.Record.CustomerID = id
	st.advance(ProgressCustomerResolved, entity.StepCustomerCreated)
	return nil
}

// --- CreateOrderStep ---

type CreateOrderStep struct {
	platform ports.InvoicingPlatform
}

func NewCreateOrderStep(platform ports.InvoicingPlatform) *CreateOrderStep {
	return &CreateOrderStep{platform: platform}
}

func (s *CreateOrderStep) Name() string { return "Create_Order_Step" }

func (s *CreateOrderStep) Execute(ctx context.Context, st *State) error {
	id, err := s.platform.CreateOrder(ctx, ports.CreateOrderInput{
		IdempotencyKey: st.Record.StepKey(entity.KeyPrefixOrder),
		CustomerID:     st.Record.CustomerID,
		OrderNumber:    st.Record.OrderNumber,
		AmountCents:    st.Record.AmountCents,
	})
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	st.Record.SquareOrderID = id
	st.advance(ProgressOrderCreated, entity.StepOrderCreated)
	return nil
}

// --- CreateInvoiceStep ---

type CreateInvoiceStep struct {
	platform ports.InvoicingPlatform
	now      func() time.Time
}

func NewCreateInvoiceStep(platform ports.InvoicingPlatform, now func() time.Time) *CreateInvoiceStep {
	return &CreateInvoiceStep{platform: platform, now: now}
}

func (s *CreateInvoiceStep) Name() string { return "Create_Invoice_Step" }

func (s *CreateInvoiceStep) Execute(ctx context.Context, st *State) error {
	inv, err := s.platform.CreateInvoice(ctx, ports.CreateInvoiceInput{
		IdempotencyKey: st.Record.StepKey(entity.KeyPrefixInvoice),
		OrderID:        st.Record.SquareOrderID,
		CustomerID:     st.Record.CustomerID,
		OrderNumber:    st.Record.OrderNumber,
		DueDate:        s.dueDate(st.Record),
	})
	if err != nil {
		return fmt.Errorf("create invoice: %w", err)
	}
	st.Invoice = inv
	st.Record.InvoiceID = inv.ID
	st.advance(ProgressInvoiceCreated, entity.StepInvoiceCreated)
	return nil
}

// dueDate is anchored on the ledger creation time so every attempt sends the
// same body under the same idempotency key.
func (s *CreateInvoiceStep) dueDate(rec *entity.OrderRecord) time.Time {
	created := rec.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	return created.UTC().AddDate(0, 0, PaymentTermDays)
}

// --- PublishInvoiceStep ---

type PublishInvoiceStep struct {
	platform ports.InvoicingPlatform
}

func NewPublishInvoiceStep(platform ports.InvoicingPlatform) *PublishInvoiceStep {
	return &PublishInvoiceStep{platform: platform}
}

func (s *PublishInvoiceStep) Name() string { return "Publish_Invoice_Step" }

// Execute re-reads the invoice first: publishing requires its current version.
// An invoice that already left DRAFT was published by an earlier attempt.
func (s *PublishInvoiceStep) Execute(ctx context.Context, st *State) error {
	current, err := s.platform.GetInvoice(ctx, st.Record.InvoiceID)
	if err != nil {
		return fmt.Errorf("fetch invoice version: %w", err)
	}
	if current.Status != InvoiceStatusDraft {
		st.Invoice = current
		st.advance(ProgressInvoicePublished, entity.StepInvoicePublished)
		return nil
	}

	published, err := s.platform.PublishInvoice(ctx, current.ID, current.Version, st.Record.StepKey(entity.KeyPrefixPublish))
	if err != nil {
		return fmt.Errorf("publish invoice: %w", err)
	}
	st.Invoice = published
	st.advance(ProgressInvoicePublished, entity.StepInvoicePublished)
	return nil
}

// SplitName splits a full name into given and family parts on the first
// space. A single word becomes the given name.
func SplitName(full string) (given, family string) {
	fields := strings.Fields(full)
	if len(fields) == 0 {
		return "", ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}
