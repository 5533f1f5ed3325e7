package entity

import "time"

// RawInvoiceRequest is the inbound payload before validation. Nil pointers mean
// the field was absent from the body.
type RawInvoiceRequest struct {
	OrderNumber      *string
	CustomerName     *string
	CustomerEmail    *string
	AmountCents      *string // decimal text as received, so fractions can be rejected
	RequestTimestamp *string
}

// InvoiceRequest is a validated request.
type InvoiceRequest struct {
	OrderNumber      string
	CustomerName     string
	CustomerEmail    string
	AmountCents      int64
	RequestTimestamp string
}

// Caller is the identity resolved by the auth gate.
type Caller struct {
	ID    string
	Email string
}

// ClientInfo describes the HTTP client for audit metadata.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// RequestContext carries everything the invoice service needs from transport.
type RequestContext struct {
	CorrelationID string
	Authorization string
	Client        ClientInfo
	ReceivedAt    time.Time
}
