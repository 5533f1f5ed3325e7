// Package testutil provides fakes and fixtures shared by the test suites.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/ports"
)

// FakePlatform is an in-memory invoicing platform that honours idempotency
// keys the way the real one does: a repeated key with the same body returns
// the original result, a repeated key with a different body is rejected.
type FakePlatform struct {
	mu sync.Mutex

	customersByEmail map[string]string
	byKey            map[string]keyEntry
	invoices         map[string]*ports.Invoice
	invoiceRequests  []ports.CreateInvoiceInput
	seq              int

	// FailOn makes the named operation fail with a PlatformError. Operation
	// names: search, customer, order, invoice, get, publish.
	FailOn map[string]bool

	// Calls counts invocations per operation.
	Calls map[string]int
	// Created counts resources actually created per kind.
	Created map[string]int
}

func NewFakePlatform() *FakePlatform {
	return &FakePlatform{
		customersByEmail: map[string]string{},
		byKey:            map[string]keyEntry{},
		invoices:         map[string]*ports.Invoice{},
		FailOn:           map[string]bool{},
		Calls:            map[string]int{},
		Created:          map[string]int{},
	}
}

// AddCustomer seeds an existing customer.
func (p *FakePlatform) AddCustomer(email, id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customersByEmail[email] = id
}

// SetFailure toggles failure injection for op.
func (p *FakePlatform) SetFailure(op string, fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.FailOn[op] = fail
}

// Count returns the number of calls made to op.
func (p *FakePlatform) Count(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Calls[op]
}

// CreatedCount returns how many resources of kind were really created.
func (p *FakePlatform) CreatedCount(kind string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Created[kind]
}

func (p *FakePlatform) enter(op string) error {
	p.Calls[op]++
	if p.FailOn[op] {
		return &ports.PlatformError{Operation: op, Status: 500, Code: "INTERNAL_SERVER_ERROR", Detail: op + " unavailable"}
	}
	return nil
}

// InvoiceRequests returns every CreateInvoice input received, in order.
func (p *FakePlatform) InvoiceRequests() []ports.CreateInvoiceInput {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ports.CreateInvoiceInput(nil), p.invoiceRequests...)
}

type keyEntry struct {
	id   string
	body string
}

// replay looks key up. A stored key with a different body fails the way the
// platform answers IDEMPOTENCY_KEY_REUSED.
func (p *FakePlatform) replay(op, key, body string) (string, bool, error) {
	e, ok := p.byKey[key]
	if !ok {
		return "", false, nil
	}
	if e.body != body {
		return "", false, &ports.PlatformError{Operation: op, Status: 400, Code: "IDEMPOTENCY_KEY_REUSED", Detail: "idempotency key " + key + " was used with a different request"}
	}
	return e.id, true, nil
}

func (p *FakePlatform) nextID(prefix string) string {
	p.seq++
	return fmt.Sprintf("%s_%03d", prefix, p.seq)
}

func (p *FakePlatform) SearchCustomerByEmail(_ context.Context, email string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("search"); err != nil {
		return "", false, err
	}
	id, ok := p.customersByEmail[email]
	return id, ok, nil
}

func (p *FakePlatform) CreateCustomer(_ context.Context, in ports.CreateCustomerInput) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("customer"); err != nil {
		return "", err
	}
	body := fmt.Sprintf("%s|%s|%s|%s", in.GivenName, in.FamilyName, in.Email, in.ReferenceID)
	if id, ok, err := p.replay("customer", in.IdempotencyKey, body); err != nil || ok {
		return id, err
	}
	id := p.nextID("CUST")
	p.byKey[in.IdempotencyKey] = keyEntry{id: id, body: body}
	p.customersByEmail[in.Email] = id
	p.Created["customer"]++
	return id, nil
}

func (p *FakePlatform) CreateOrder(_ context.Context, in ports.CreateOrderInput) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("order"); err != nil {
		return "", err
	}
	body := fmt.Sprintf("%s|%s|%d", in.CustomerID, in.OrderNumber, in.AmountCents)
	if id, ok, err := p.replay("order", in.IdempotencyKey, body); err != nil || ok {
		return id, err
	}
	id := p.nextID("ORD")
	p.byKey[in.IdempotencyKey] = keyEntry{id: id, body: body}
	p.Created["order"]++
	return id, nil
}

func (p *FakePlatform) CreateInvoice(_ context.Context, in ports.CreateInvoiceInput) (*ports.Invoice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("invoice"); err != nil {
		return nil, err
	}
	p.invoiceRequests = append(p.invoiceRequests, in)
	body := fmt.Sprintf("%s|%s|%s|%s", in.OrderID, in.CustomerID, in.OrderNumber, in.DueDate.Format("2006-01-02"))
	id, ok, err := p.replay("invoice", in.IdempotencyKey, body)
	if err != nil {
		return nil, err
	}
	if ok {
		inv := *p.invoices[id]
		return &inv, nil
	}
	id = p.nextID("INV")
	p.byKey[in.IdempotencyKey] = keyEntry{id: id, body: body}
	p.invoices[id] = &ports.Invoice{ID: id, Version: 0, Status: "DRAFT"}
	p.Created["invoice"]++
	inv := *p.invoices[id]
	return &inv, nil
}

func (p *FakePlatform) GetInvoice(_ context.Context, invoiceID string) (*ports.Invoice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("get"); err != nil {
		return nil, err
	}
	inv, ok := p.invoices[invoiceID]
	if !ok {
		return nil, &ports.PlatformError{Operation: "get", Status: 404, Code: "NOT_FOUND", Detail: "invoice not found"}
	}
	out := *inv
	return &out, nil
}

func (p *FakePlatform) PublishInvoice(_ context.Context, invoiceID string, version int64, key string) (*ports.Invoice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("publish"); err != nil {
		return nil, err
	}
	inv, ok := p.invoices[invoiceID]
	if !ok {
		return nil, &ports.PlatformError{Operation: "publish", Status: 404, Code: "NOT_FOUND", Detail: "invoice not found"}
	}
	body := fmt.Sprintf("%s|%d", invoiceID, version)
	if _, ok, err := p.replay("publish", key, body); err != nil {
		return nil, err
	} else if ok {
		out := *inv
		return &out, nil
	}
	if inv.Version != version {
		return nil, &ports.PlatformError{Operation: "publish", Status: 400, Code: "VERSION_MISMATCH", Detail: "invoice version is stale"}
	}
	p.byKey[key] = keyEntry{id: invoiceID, body: body}
	inv.Version++
	inv.Status = "UNPAID"
	inv.InvoiceNumber = fmt.Sprintf("%06d", p.seq)
	inv.PublicURL = "https://squareup.test/pay-invoice/" + invoiceID
	p.Created["publish"]++
	out := *inv
	return &out, nil
}

var _ ports.InvoicingPlatform = (*FakePlatform)(nil)
