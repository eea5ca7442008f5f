// Package metrics exposes Prometheus collectors for the audit orchestrator.
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
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec
	analyzerInvocationsTotal     *prometheus.CounterVec
	analyzerDurationSeconds      *prometheus.HistogramVec
	auditorJobsTotal             *prometheus.CounterVec
	auditorActiveWorkers         prometheus.Gauge
	auditorRateLimitDelaySeconds *prometheus.HistogramVec
	auditorReconciledJobsTotal   prometheus.Counter
	auditorArtifactsTotal        *prometheus.CounterVec
	progressDroppedTotal         *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
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

		analyzerInvocationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auditor_analyzer_invocations_total",
				Help: "Analyzer invocations, labeled by result (ok or an error kind).",
			},
			[]string{"result"},
		)

		analyzerDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "auditor_analyzer_duration_seconds",
				Help:    "Wall-clock duration of Analyzer invocations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"result"},
		)

		auditorJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auditor_jobs_total",
				Help: "Total number of audit jobs that reached a terminal state, labeled by status.",
			},
			[]string{"status"},
		)

		auditorActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "auditor_active_workers",
				Help: "Number of workers currently running an audit.",
			},
		)

		auditorRateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "auditor_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		auditorReconciledJobsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "auditor_reconciled_jobs_total",
				Help: "Running jobs failed by the stale-job sweep.",
			},
		)

		auditorArtifactsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auditor_artifacts_total",
				Help: "Raw Analyzer outputs archived to blob storage, labeled by result.",
			},
			[]string{"result"},
		)

		progressDroppedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auditor_progress_events_dropped_total",
				Help: "Progress events discarded because the hub buffer was full, labeled by stage.",
			},
			[]string{"stage"},
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

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveAnalyzer records one Analyzer invocation.
func ObserveAnalyzer(result string, duration time.Duration) {
	Init()
	analyzerInvocationsTotal.WithLabelValues(result).Inc()
	analyzerDurationSeconds.WithLabelValues(result).Observe(duration.Seconds())
}

// ObserveJob increments the job counter for the given terminal status.
func ObserveJob(status string) {
	Init()
	auditorJobsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	auditorActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	auditorActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	auditorRateLimitDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveReconciled counts jobs failed by the stale sweep.
func ObserveReconciled(n int) {
	Init()
	auditorReconciledJobsTotal.Add(float64(n))
}

// ObserveArtifact records an archive attempt: "ok", "error" or "skipped".
func ObserveArtifact(result string) {
	Init()
	auditorArtifactsTotal.WithLabelValues(result).Inc()
}

// ObserveProgressDropped counts a progress event lost to backpressure.
func ObserveProgressDropped(stage string) {
	Init()
	progressDroppedTotal.WithLabelValues(stage).Inc()
}
