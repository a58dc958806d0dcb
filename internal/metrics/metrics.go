// Package metrics exposes Prometheus instrumentation for the hub: admission
// decisions, live WebSocket connections, notification fan-out, and HTTP
// request timing.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	admissionDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "healthhub",
			Subsystem: "admission",
			Name:      "decisions_total",
			Help:      "Admission controller decisions.",
		},
		[]string{"outcome"},
	)
	wsConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "healthhub",
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Live WebSocket connections.",
		},
	)
	notificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "healthhub",
			Subsystem: "realtime",
			Name:      "notifications_sent_total",
			Help:      "Notifications delivered to channels.",
		},
		[]string{"type"},
	)
	deliveryFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "healthhub",
			Subsystem: "realtime",
			Name:      "delivery_failures_total",
			Help:      "Channel sends that failed and forced a disconnect.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "healthhub",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "healthhub",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// Register installs the collectors. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			admissionDecisions,
			wsConnections,
			notificationsSent,
			deliveryFailures,
			httpRequests,
			httpDuration,
		)
	})
}

// Handler returns the /metrics scrape endpoint.
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}

// RecordAdmission counts one admission decision.
func RecordAdmission(allowed bool) {
	Register()
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	admissionDecisions.WithLabelValues(outcome).Inc()
}

// ConnectionOpened bumps the live connection gauge.
func ConnectionOpened() {
	Register()
	wsConnections.Inc()
}

// ConnectionClosed drops the live connection gauge.
func ConnectionClosed() {
	Register()
	wsConnections.Dec()
}

// RecordNotification counts one successful channel delivery.
func RecordNotification(typ string) {
	Register()
	notificationsSent.WithLabelValues(typ).Inc()
}

// RecordDeliveryFailure counts a failed channel send.
func RecordDeliveryFailure() {
	Register()
	deliveryFailures.Inc()
}

// RecordHTTPRequest counts and times one handled request.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	Register()
	s := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, route, s).Inc()
	httpDuration.WithLabelValues(method, route, s).Observe(duration.Seconds())
}
