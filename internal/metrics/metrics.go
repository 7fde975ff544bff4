// Package metrics exposes Prometheus collectors for the crawl agent.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cycle outcomes reported by the scheduler.
const (
	CycleInactive   = "inactive"
	CycleNoTarget   = "no_target"
	CycleDeclined   = "declined"
	CycleSaturated  = "saturated"
	CycleDispatched = "dispatched"
	CycleError      = "error"
)

var (
	cyclesTotal                *prometheus.CounterVec
	sessionsTotal              *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	fetchesInFlight            prometheus.Gauge
	panicsTotal                prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		cyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gentlevisitor_cycles_total",
				Help: "Total scheduler cycles, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		sessionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gentlevisitor_sessions_total",
				Help: "Total completed sessions, labeled by site and final state.",
			},
			[]string{"site", "state"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gentlevisitor_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by site.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)

		fetchesInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "gentlevisitor_fetches_in_flight",
				Help: "Number of fetches currently dispatched and not yet completed.",
			},
		)

		panicsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gentlevisitor_recovered_panics_total",
				Help: "Total panics recovered by the scheduler and HTTP API.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCycle counts one scheduler cycle.
func ObserveCycle(outcome string) {
	cyclesTotal.WithLabelValues(outcome).Inc()
}

// ObserveSession counts a completed session and its fetch latency.
func ObserveSession(site, state string, duration time.Duration) {
	sanitizedSite := SanitizeSite(site)
	sessionsTotal.WithLabelValues(sanitizedSite, state).Inc()
	if duration > 0 {
		fetchDurationSeconds.WithLabelValues(sanitizedSite).Observe(duration.Seconds())
	}
}

// IncInFlight increments the in-flight fetches gauge.
func IncInFlight() {
	fetchesInFlight.Inc()
}

// DecInFlight decrements the in-flight fetches gauge.
func DecInFlight() {
	fetchesInFlight.Dec()
}

// ObservePanic counts a recovered panic.
func ObservePanic() {
	panicsTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
