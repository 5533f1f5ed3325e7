// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invoicer_requests_total",
		Help: "Invoice requests by terminal audit result",
	}, []string{"result", "code"})

	sagaStepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "invoicer_saga_step_duration_seconds",
		Help:    "Duration of each saga step against the invoicing platform",
		Buckets: prometheus.DefBuckets,
	}, []string{"step", "outcome"})

	auditWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "invoicer_audit_write_failures_total",
		Help: "Audit entries that could not be persisted",
	})
)

// ObserveRequest counts one terminal request outcome.
func ObserveRequest(result, code string) {
	requestsTotal.WithLabelValues(result, code).Inc()
}

// ObserveStep records how long a saga step took and whether it succeeded.
func ObserveStep(step string, took time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	sagaStepDuration.WithLabelValues(step, outcome).Observe(took.Seconds())
}

// AuditWriteFailed counts a swallowed audit write error.
func AuditWriteFailed() {
	auditWriteFailures.Inc()
}

// Handler serves the default registry in Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
