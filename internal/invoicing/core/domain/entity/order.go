package entity

import "time"

// OrderStatus is the lifecycle state of an OrderRecord in the ledger.
type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusProcessing OrderStatus = "processing"
	StatusCompleted  OrderStatus = "completed"
	StatusFailed     OrderStatus = "failed"
)

// Step names recorded in OrderRecord.StepsCompleted.
type Step string

const (
	StepCustomerSearch   Step = "customer_search"
	StepCustomerFound    Step = "customer_found"
	StepCustomerCreated  Step = "customer_created"
	StepOrderCreated     Step = "order_created"
	StepInvoiceCreated   Step = "invoice_created"
	StepInvoicePublished Step = "invoice_published"
)

// Idempotency key prefixes, one per platform write.
const (
	KeyPrefixCustomer = "cust"
	KeyPrefixOrder    = "ord"
	KeyPrefixInvoice  = "inv"
	KeyPrefixPublish  = "pub"
)

// OrderRecord is one row of the order ledger. There is exactly one record per
// order number.
type OrderRecord struct {
	OrderNumber    string
	Status         OrderStatus
	CustomerID     string
	SquareOrderID  string
	InvoiceID      string
	StepsCompleted []Step
	AmountCents    int64
	CustomerName   string
	CustomerEmail  string
	IdempotencyKey string
	ErrorMessage   string
	CreatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

// IdempotencyKeyFor returns the base idempotency key of an order number.
func IdempotencyKeyFor(orderNumber string) string {
	return orderNumber
}

// StepKey derives the per-step idempotency key sent to the platform,
// e.g. "ord-7600".
func (o *OrderRecord) StepKey(prefix string) string {
	return prefix + "-" + o.IdempotencyKey
}

// AddStep appends step unless it is already present. Steps are never removed.
func (o *OrderRecord) AddStep(step Step) {
	for _, s := range o.StepsCompleted {
		if s == step {
			return
		}
	}
	o.StepsCompleted = append(o.StepsCompleted, step)
}

// HasStep reports whether step has been recorded.
func (o *OrderRecord) HasStep(step Step) bool {
	for _, s := range o.StepsCompleted {
		if s == step {
			return true
		}
	}
	return false
}

// NewOrderRecord builds the record inserted on the first request for an order
// number.
func NewOrderRecord(req InvoiceRequest, createdBy string, now time.Time) *OrderRecord {
	return &OrderRecord{
		OrderNumber:    req.OrderNumber,
		Status:         StatusProcessing,
		StepsCompleted: []Step{},
		AmountCents:    req.AmountCents,
		CustomerName:   req.CustomerName,
		CustomerEmail:  req.CustomerEmail,
		IdempotencyKey: IdempotencyKeyFor(req.OrderNumber),
		CreatedBy:      createdBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// InvoiceResult is returned to the caller after a successful saga.
type InvoiceResult struct {
	OrderNumber   string
	CustomerID    string
	OrderID       string
	InvoiceID     string
	InvoiceNumber string
	PublicURL     string
}
