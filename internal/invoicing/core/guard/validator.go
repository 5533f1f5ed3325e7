// Package guard holds the request gates that run before any order state is
// touched: payload validation, replay protection and rate limiting.
package guard

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/domain/entity"
)

var (
	orderNumberPattern = regexp.MustCompile(`^[A-Za-z0-9-]{1,50}$`)
	emailPattern       = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// Validator checks the inbound payload. It makes no external calls.
type Validator struct {
	maxAmountCents int64
}

func NewValidator(maxAmountCents int64) *Validator {
	return &Validator{maxAmountCents: maxAmountCents}
}

// Validate returns the normalised request or the first rule it breaks.
func (v *Validator) Validate(raw entity.RawInvoiceRequest) (entity.InvoiceRequest, *entity.AppError) {
	fields := []struct {
		name  string
		value *string
	}{
		{"order_number", raw.OrderNumber},
		{"customer_name", raw.CustomerName},
		{"customer_email", raw.CustomerEmail},
		{"amount_cents", raw.AmountCents},
		{"request_timestamp", raw.RequestTimestamp},
	}

	var missing []string
	for _, f := range fields {
		if f.value == nil || strings.TrimSpace(*f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return entity.InvoiceRequest{}, entity.NewAppError(entity.CodeMissingField,
			"missing required fields: "+strings.Join(missing, ", "))
	}

	req := entity.InvoiceRequest{
		OrderNumber:      strings.TrimSpace(*raw.OrderNumber),
		CustomerName:     strings.TrimSpace(*raw.CustomerName),
		CustomerEmail:    strings.TrimSpace(*raw.CustomerEmail),
		RequestTimestamp: strings.TrimSpace(*raw.RequestTimestamp),
	}

	if !orderNumberPattern.MatchString(req.OrderNumber) {
		return entity.InvoiceRequest{}, entity.NewAppError(entity.CodeInvalidOrder,
			"order_number must be 1-50 letters, digits or hyphens")
	}
	if !emailPattern.MatchString(req.CustomerEmail) {
		return entity.InvoiceRequest{}, entity.NewAppError(entity.CodeInvalidEmail,
			"customer_email is not a valid email address")
	}

	amount, err := strconv.ParseInt(strings.TrimSpace(*raw.AmountCents), 10, 64)
	if err != nil || amount <= 0 || amount > v.maxAmountCents {
		return entity.InvoiceRequest{}, entity.NewAppError(entity.CodeInvalidAmount,
			fmt.Sprintf("amount_cents must be an integer between 1 and %d", v.maxAmountCents))
	}
	req.AmountCents = amount

	return req, nil
}
