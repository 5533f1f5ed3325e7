// Package square is the InvoicingPlatform adapter for the Square v2 REST API.
package square

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/ports"
)

const (
	DefaultBaseURL    = "https://connect.squareupsandbox.com"
	DefaultAPIVersion = "2024-10-17"
	defaultTimeout    = 10 * time.Second
	dueDateLayout     = "2006-01-02"
)

var _ ports.InvoicingPlatform = (*Client)(nil)

// Config holds the connection settings for one Square location.
type Config struct {
	BaseURL     string
	AccessToken string
	LocationID  string
	APIVersion  string
	Currency    string
	Timeout     time.Duration // per call
}

type Client struct {
	cfg    Config
	client *http.Client
}

// NewClient returns a client for cfg. A nil httpClient uses a fresh
// http.Client; the per-call timeout is applied through the request context.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{cfg: cfg, client: httpClient}
}

// --- wire types ---

type money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type squareError struct {
	Category string `json:"category"`
	Code     string `json:"code"`
	Detail   string `json:"detail"`
	Field    string `json:"field,omitempty"`
}

type errorEnvelope struct {
	Errors []squareError `json:"errors"`
}

type customer struct {
	ID string `json:"id"`
}

type searchCustomersRequest struct {
	Query struct {
		Filter struct {
			EmailAddress struct {
				Exact string `json:"exact"`
			} `json:"email_address"`
		} `json:"filter"`
	} `json:"query"`
	Limit int `json:"limit"`
}

type searchCustomersResponse struct {
	Customers []customer `json:"customers"`
}

type createCustomerRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	GivenName      string `json:"given_name,omitempty"`
	FamilyName     string `json:"family_name,omitempty"`
	EmailAddress   string `json:"email_address"`
	ReferenceID    string `json:"reference_id,omitempty"`
}

type customerResponse struct {
	Customer customer `json:"customer"`
}

type lineItem struct {
	Name           string `json:"name"`
	Quantity       string `json:"quantity"`
	BasePriceMoney money  `json:"base_price_money"`
}

type order struct {
	ID          string     `json:"id,omitempty"`
	LocationID  string     `json:"location_id"`
	CustomerID  string     `json:"customer_id,omitempty"`
	ReferenceID string     `json:"reference_id,omitempty"`
	LineItems   []lineItem `json:"line_items"`
}

type createOrderRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	Order          order  `json:"order"`
}

type orderResponse struct {
	Order order `json:"order"`
}

type paymentRequest struct {
	RequestType string `json:"request_type"`
	DueDate     string `json:"due_date"`
}

type acceptedPaymentMethods struct {
	Card           bool `json:"card"`
	SquareGiftCard bool `json:"square_gift_card"`
	BankAccount    bool `json:"bank_account"`
	BuyNowPayLater bool `json:"buy_now_pay_later"`
	CashAppPay     bool `json:"cash_app_pay"`
}

type invoice struct {
	ID                     string                  `json:"id,omitempty"`
	Version                int64                   `json:"version,omitempty"`
	LocationID             string                  `json:"location_id,omitempty"`
	OrderID                string                  `json:"order_id,omitempty"`
	InvoiceNumber          string                  `json:"invoice_number,omitempty"`
	Status                 string                  `json:"status,omitempty"`
	PublicURL              string                  `json:"public_url,omitempty"`
	Title                  string                  `json:"title,omitempty"`
	PrimaryRecipient       *recipient              `json:"primary_recipient,omitempty"`
	PaymentRequests        []paymentRequest        `json:"payment_requests,omitempty"`
	DeliveryMethod         string                  `json:"delivery_method,omitempty"`
	AcceptedPaymentMethods *acceptedPaymentMethods `json:"accepted_payment_methods,omitempty"`
}

type recipient struct {
	CustomerID string `json:"customer_id"`
}

type createInvoiceRequest struct {
	IdempotencyKey string  `json:"idempotency_key"`
	Invoice        invoice `json:"invoice"`
}

type publishInvoiceRequest struct {
	Version        int64  `json:"version"`
	IdempotencyKey string `json:"idempotency_key"`
}

type invoiceResponse struct {
	Invoice invoice `json:"invoice"`
}

// --- operations ---

func (c *Client) SearchCustomerByEmail(ctx context.Context, email string) (string, bool, error) {
	var req searchCustomersRequest
	req.Query.Filter.EmailAddress.Exact = email
	req.Limit = 1

	var resp searchCustomersResponse
	if err := c.do(ctx, "search_customers", http.MethodPost, "/v2/customers/search", req, &resp); err != nil {
		return "", false, err
	}
	if len(resp.Customers) == 0 {
		return "", false, nil
	}
	return resp.Customers[0].ID, true, nil
}

func (c *Client) CreateCustomer(ctx context.Context, in ports.CreateCustomerInput) (string, error) {
	req := createCustomerRequest{
		IdempotencyKey: in.IdempotencyKey,
		GivenName:      in.GivenName,
		FamilyName:     in.FamilyName,
		EmailAddress:   in.Email,
		ReferenceID:    in.ReferenceID,
	}
	var resp customerResponse
	if err := c.do(ctx, "create_customer", http.MethodPost, "/v2/customers", req, &resp); err != nil {
		return "", err
	}
	return resp.Customer.ID, nil
}

func (c *Client) CreateOrder(ctx context.Context, in ports.CreateOrderInput) (string, error) {
	req := createOrderRequest{
		IdempotencyKey: in.IdempotencyKey,
		Order: order{
			LocationID:  c.cfg.LocationID,
			CustomerID:  in.CustomerID,
			ReferenceID: in.OrderNumber,
			LineItems: []lineItem{{
				Name:           "Order #" + in.OrderNumber,
				Quantity:       "1",
				BasePriceMoney: money{Amount: in.AmountCents, Currency: c.cfg.Currency},
			}},
		},
	}
	var resp orderResponse
	if err := c.do(ctx, "create_order", http.MethodPost, "/v2/orders", req, &resp); err != nil {
		return "", err
	}
	return resp.Order.ID, nil
}

func (c *Client) CreateInvoice(ctx context.Context, in ports.CreateInvoiceInput) (*ports.Invoice, error) {
	req := createInvoiceRequest{
		IdempotencyKey: in.IdempotencyKey,
		Invoice: invoice{
			LocationID:       c.cfg.LocationID,
			OrderID:          in.OrderID,
			Title:            "Invoice for order #" + in.OrderNumber,
			PrimaryRecipient: &recipient{CustomerID: in.CustomerID},
			PaymentRequests: []paymentRequest{{
				RequestType: "BALANCE",
				DueDate:     in.DueDate.Format(dueDateLayout),
			}},
			DeliveryMethod: "EMAIL",
			AcceptedPaymentMethods: &acceptedPaymentMethods{
				Card:        true,
				BankAccount: true,
			},
		},
	}
	var resp invoiceResponse
	if err := c.do(ctx, "create_invoice", http.MethodPost, "/v2/invoices", req, &resp); err != nil {
		return nil, err
	}
	return toInvoice(resp.Invoice), nil
}

func (c *Client) GetInvoice(ctx context.Context, invoiceID string) (*ports.Invoice, error) {
	var resp invoiceResponse
	path := "/v2/invoices/" + url.PathEscape(invoiceID)
	if err := c.do(ctx, "get_invoice", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return toInvoice(resp.Invoice), nil
}

func (c *Client) PublishInvoice(ctx context.Context, invoiceID string, version int64, idempotencyKey string) (*ports.Invoice, error) {
	req := publishInvoiceRequest{Version: version, IdempotencyKey: idempotencyKey}
	var resp invoiceResponse
	path := "/v2/invoices/" + url.PathEscape(invoiceID) + "/publish"
	if err := c.do(ctx, "publish_invoice", http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}
	return toInvoice(resp.Invoice), nil
}

func toInvoice(in invoice) *ports.Invoice {
	return &ports.Invoice{
		ID:            in.ID,
		Version:       in.Version,
		InvoiceNumber: in.InvoiceNumber,
		Status:        in.Status,
		PublicURL:     in.PublicURL,
	}
}

// do sends one JSON request. Non-2xx answers become *ports.PlatformError
// carrying the first Square error's code and detail.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	req.Header.Set("Square-Version", c.cfg.APIVersion)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &ports.PlatformError{Operation: op, Detail: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ports.PlatformError{Operation: op, Status: resp.StatusCode, Detail: "read response: " + err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseError(op, resp.StatusCode, respBody)
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &ports.PlatformError{Operation: op, Status: resp.StatusCode, Detail: "decode response: " + err.Error()}
	}
	return nil
}

func parseError(op string, status int, body []byte) error {
	pe := &ports.PlatformError{Operation: op, Status: status}
	var env errorEnvelope
	if json.Unmarshal(body, &env) == nil && len(env.Errors) > 0 {
		first := env.Errors[0]
		pe.Code = first.Code
		pe.Detail = first.Detail
		if pe.Detail == "" {
			pe.Detail = first.Category
		}
		return pe
	}
	pe.Detail = fmt.Sprintf("HTTP %d", status)
	if s := strings.TrimSpace(string(body)); s != "" {
		pe.Detail += ": " + truncate(s, 200)
	}
	return pe
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
