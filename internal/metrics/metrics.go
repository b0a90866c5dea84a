// Package metrics exposes Prometheus collectors for the harvest pipeline.
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

var (
	harvestPackagesTotal       *prometheus.CounterVec
	apiRequestsTotal           *prometheus.CounterVec
	apiBackoffSecondsTotal     *prometheus.CounterVec
	probeResultsTotal          *prometheus.CounterVec
	auditRowsTotal             *prometheus.CounterVec
	validatorInflightProbes    prometheus.Gauge
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		harvestPackagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pypi_harvest_packages_total",
				Help: "Packages handled by the harvester, labeled by final state.",
			},
			[]string{"state"},
		)

		apiRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pypi_api_requests_total",
				Help: "Remote API attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		apiBackoffSecondsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pypi_api_backoff_seconds_total",
				Help: "Seconds spent sleeping before retrying the remote API, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		probeResultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pypi_probe_results_total",
				Help: "Existence probes, labeled by result.",
			},
			[]string{"result"},
		)

		auditRowsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pypi_audit_rows_total",
				Help: "Rows seen by the audit pass, labeled by result.",
			},
			[]string{"result"},
		)

		validatorInflightProbes = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pypi_validator_inflight_probes",
				Help: "Number of existence probes currently running.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pypi_rate_limit_delay_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pypi_status_http_requests_total",
				Help: "Requests served by the status server, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pypi_status_http_request_duration_seconds",
				Help:    "Status server latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeHost extracts a lowercase hostname, or "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
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
	Init()
	return promhttp.Handler()
}

// ObservePackage counts one package reaching a terminal harvest state.
func ObservePackage(state string) {
	Init()
	harvestPackagesTotal.WithLabelValues(state).Inc()
}

// ObserveAPIRequest counts one remote API attempt.
func ObserveAPIRequest(outcome string) {
	Init()
	apiRequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveBackoff records time spent waiting before a retry.
func ObserveBackoff(outcome string, d time.Duration) {
	Init()
	apiBackoffSecondsTotal.WithLabelValues(outcome).Add(d.Seconds())
}

// ObserveProbe counts one existence probe result.
func ObserveProbe(result string) {
	Init()
	probeResultsTotal.WithLabelValues(result).Inc()
}

// ObserveAuditRow counts one audited row.
func ObserveAuditRow(result string) {
	Init()
	auditRowsTotal.WithLabelValues(result).Inc()
}

// IncInflightProbes increments the in-flight probe gauge.
func IncInflightProbes() {
	Init()
	validatorInflightProbes.Inc()
}

// DecInflightProbes decrements the in-flight probe gauge.
func DecInflightProbes() {
	Init()
	validatorInflightProbes.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest records one request served by the status server.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
