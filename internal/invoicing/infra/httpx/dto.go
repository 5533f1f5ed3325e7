package httpx

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/domain/entity"
)

// CreateInvoiceRequest is the inbound body. Absent fields stay nil so the
// validator can name them. AmountCents accepts a JSON number or a numeric
// string; the validator decides whether it is a whole number of cents.
type CreateInvoiceRequest struct {
	OrderNumber      *string         `json:"order_number"`
	CustomerName     *string         `json:"customer_name"`
	CustomerEmail    *string         `json:"customer_email"`
	AmountCents      json.RawMessage `json:"amount_cents"`
	RequestTimestamp *string         `json:"request_timestamp"`
}

func (r CreateInvoiceRequest) toRaw() *entity.RawInvoiceRequest {
	return &entity.RawInvoiceRequest{
		OrderNumber:      r.OrderNumber,
		CustomerName:     r.CustomerName,
		CustomerEmail:    r.CustomerEmail,
		AmountCents:      amountText(r.AmountCents),
		RequestTimestamp: r.RequestTimestamp,
	}
}

func amountText(raw json.RawMessage) *string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
	} else {
		s = string(raw)
	}
	s = strings.TrimSpace(s)
	return &s
}

type Response struct {
	Success       bool         `json:"success"`
	CorrelationID string       `json:"correlation_id"`
	Data          *InvoiceData `json:"data,omitempty"`
	Error         *ErrorBody   `json:"error,omitempty"`
}

type InvoiceData struct {
	OrderNumber   string `json:"order_number"`
	CustomerID    string `json:"customer_id"`
	OrderID       string `json:"order_id"`
	InvoiceID     string `json:"invoice_id"`
	InvoiceNumber string `json:"invoice_number"`
	PublicURL     string `json:"public_url,omitempty"`
}

type ErrorBody struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}
