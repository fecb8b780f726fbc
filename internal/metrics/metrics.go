// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Reservations counts create-reservation outcomes by result
	// ("created" or the error code returned to the buyer).
	Reservations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Name:      "reservations_total",
		Help:      "Reservation attempts by result.",
	}, []string{"result"})

	Emails = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Name:      "emails_total",
		Help:      "Transactional emails by kind and result.",
	}, []string{"kind", "result"})

	Translations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Name:      "translations_total",
		Help:      "Instrument translations by target locale and result.",
	}, []string{"locale", "result"})

	OrderTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Name:      "order_transitions_total",
		Help:      "Admin order status changes.",
	}, []string{"from", "to"})

	OutboxPending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "storefront",
		Name:      "outbox_pending",
		Help:      "Outbox jobs not yet published.",
	})

	HTTPRequests = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "storefront",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }

// Result maps an error to a result label.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
