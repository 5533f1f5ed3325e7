package httpx

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/jcmexdev/invoice-gateway/internal/invoicing/app"
	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/domain/entity"
	"github.com/jcmexdev/invoice-gateway/internal/pkg/correlation"
)

const maxBodyBytes = 64 << 10

// InvoiceCreator runs the invoice pipeline for one request.
type InvoiceCreator interface {
	CreateInvoice(ctx context.Context, rc entity.RequestContext, raw *entity.RawInvoiceRequest) app.Outcome
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the invoice endpoint and the health check.
type Handler struct {
	invoices InvoiceCreator
	health   Pinger
	now      func() time.Time
}

func NewHandler(invoices InvoiceCreator, health Pinger) *Handler {
	return &Handler{invoices: invoices, health: health, now: time.Now}
}

// CreateInvoice decodes the body and hands it to the pipeline. A body that
// is not a JSON object still goes through authentication first, so the
// pipeline receives nil and classifies it.
func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var raw *entity.RawInvoiceRequest
	var req CreateInvoiceRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		slog.DebugContext(r.Context(), "invalid invoice body", "error", err)
	} else {
		raw = req.toRaw()
	}

	rc := entity.RequestContext{
		CorrelationID: correlation.FromContext(r.Context()),
		Authorization: r.Header.Get("Authorization"),
		Client: entity.ClientInfo{
			IP:        clientIP(r.RemoteAddr),
			UserAgent: r.UserAgent(),
		},
		ReceivedAt: h.now().UTC(),
	}

	out := h.invoices.CreateInvoice(r.Context(), rc, raw)
	writeOutcome(w, out)
}

// Healthz pings the store.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.health.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func writeOutcome(w http.ResponseWriter, out app.Outcome) {
	if out.CorrelationID != "" {
		w.Header().Set(correlation.HeaderCorrelationID, out.CorrelationID)
	}

	if out.Err != nil {
		if out.Err.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(out.Err.RetryAfter))
		}
		writeJSON(w, StatusFor(out.Err.Code), Response{
			Success:       false,
			CorrelationID: out.CorrelationID,
			Error: &ErrorBody{
				Code:       string(out.Err.Code),
				Message:    out.Err.Message,
				RetryAfter: out.Err.RetryAfter,
			},
		})
		return
	}

	res := out.Result
	writeJSON(w, http.StatusOK, Response{
		Success:       true,
		CorrelationID: out.CorrelationID,
		Data: &InvoiceData{
			OrderNumber:   res.OrderNumber,
			CustomerID:    res.CustomerID,
			OrderID:       res.OrderID,
			InvoiceID:     res.InvoiceID,
			InvoiceNumber: res.InvoiceNumber,
			PublicURL:     res.PublicURL,
		},
	})
}

// StatusFor maps an error code to its HTTP status.
func StatusFor(code entity.ErrorCode) int {
	switch code {
	case entity.CodeAuthMissing, entity.CodeAuthInvalid, entity.CodeAuthExpired:
		return http.StatusUnauthorized
	case entity.CodeUnauthorized:
		return http.StatusForbidden
	case entity.CodeInvalidRequest, entity.CodeMissingField, entity.CodeInvalidOrder,
		entity.CodeInvalidEmail, entity.CodeInvalidAmount, entity.CodeReplayRejected:
		return http.StatusBadRequest
	case entity.CodeDuplicateOrder:
		return http.StatusConflict
	case entity.CodeRateLimitedUser, entity.CodeRateLimitedGlobal:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func clientIP(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
