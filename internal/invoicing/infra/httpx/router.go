package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jcmexdev/invoice-gateway/internal/invoicing/infra/httpx/middlewares"
	"github.com/jcmexdev/invoice-gateway/internal/pkg/metrics"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	// Enable it only behind a proxy that overwrites those headers.
	TrustProxy bool
}

// NewRouter builds the HTTP surface. Every request runs inside a server span
// continued from an inbound traceparent header when one is present.
func NewRouter(handler *Handler, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	if opts.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middlewares.AttachCorrelationID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(middlewares.CORS(opts.AllowedOrigins))
		r.Post("/invoices", handler.CreateInvoice)
		r.Options("/invoices", func(http.ResponseWriter, *http.Request) {})
	})

	r.Get("/healthz", handler.Healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	return otelhttp.NewHandler(r, "http.server",
		otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
			return req.Method + " " + req.URL.Path
		}),
	)
}
