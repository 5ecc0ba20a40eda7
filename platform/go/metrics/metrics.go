// Package metrics exposes Prometheus metrics for the provisioning workflows.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors shared by the API and the workflow services.
type Metrics struct {
	stepsTotal       *prometheus.CounterVec
	providerRequests *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	pollAttempts     prometheus.Histogram
}

var globalMetrics *Metrics

// New creates and registers the collectors on the default registry. Repeated
// calls return the already-registered set so wiring code and tests can share it.
func New() *Metrics {
	if globalMetrics != nil {
		return globalMetrics
	}

	globalMetrics = &Metrics{
		stepsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whatsapp_provisioning_steps_total",
				Help: "Provisioning workflow step outcomes",
			},
			[]string{"step", "outcome"},
		),
		providerRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whatsapp_provider_requests_total",
				Help: "Graph API requests by endpoint and HTTP status",
			},
			[]string{"endpoint", "status"},
		),
		providerDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "whatsapp_provider_request_duration_seconds",
				Help:    "Graph API request duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
			},
			[]string{"endpoint"},
		),
		pollAttempts: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "whatsapp_provisioning_poll_attempts",
				Help:    "Reconciliation poll attempts used before the account became visible",
				Buckets: []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
			},
		),
	}

	return globalMetrics
}

// RecordStep counts one workflow step outcome. Safe on a nil receiver so the
// services can run unmetered in tests.
func (m *Metrics) RecordStep(step string, success bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.stepsTotal.WithLabelValues(step, outcome).Inc()
}

// RecordProviderRequest counts one Graph API round trip.
func (m *Metrics) RecordProviderRequest(endpoint string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.providerRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	m.providerDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordPollAttempts observes how many reconciliation attempts a successful poll consumed.
func (m *Metrics) RecordPollAttempts(attempts int) {
	if m == nil {
		return
	}
	m.pollAttempts.Observe(float64(attempts))
}

// Handler returns the scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
