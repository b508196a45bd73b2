// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Admission metrics
	AdmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "m3ugate_admissions_total",
			Help: "Total number of playlist admission attempts by outcome",
		},
		[]string{"outcome"}, // ALLOWED, BLOCKED, EXPIRED, ERROR
	)

	AdmissionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "m3ugate_admission_duration_seconds",
			Help:    "Duration of admission decisions, including journaling",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	DevicesRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "m3ugate_devices_registered_total",
			Help: "Total number of new devices admitted",
		},
	)

	JournalFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "m3ugate_journal_write_failures_total",
			Help: "Total number of access journal entries that could not be written",
		},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "m3ugate_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "m3ugate_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)
)

// ObserveAdmission records one admission outcome and how long it took.
func ObserveAdmission(outcome string, started time.Time) {
	AdmissionsTotal.WithLabelValues(outcome).Inc()
	AdmissionDuration.Observe(time.Since(started).Seconds())
}

// ObserveHTTP records one served request. route should be the matched route
// pattern, not the raw path, to keep label cardinality bounded.
func ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
