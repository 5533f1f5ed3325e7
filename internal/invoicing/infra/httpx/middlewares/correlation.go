package middlewares

import (
	"net/http"

	"github.com/jcmexdev/invoice-gateway/internal/pkg/correlation"
)

// AttachCorrelationID gives every request a fresh correlation id, stores it in
// the request context and echoes it in the X-Correlation-ID response header.
func AttachCorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := correlation.NewID()
		w.Header().Set(correlation.HeaderCorrelationID, id)

		ctx := correlation.WithID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
