// Package metrics exposes Prometheus collectors for the scan worker.
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
	auditJobsTotal              *prometheus.CounterVec
	auditJobDurationSeconds     *prometheus.HistogramVec
	auditCheckDurationSeconds   *prometheus.HistogramVec
	auditLinkProbesTotal        *prometheus.CounterVec
	auditReportBytes            prometheus.Histogram
	auditActiveJobs             prometheus.Gauge
	auditFinalizeFailuresTotal  prometheus.Counter
	auditRateLimitDelaysSeconds *prometheus.HistogramVec
	httpRequestsTotal           *prometheus.CounterVec
	httpRequestDurationSeconds  *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		auditJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auditly_jobs_total",
				Help: "Total number of scan jobs finalized, labeled by status.",
			},
			[]string{"status"},
		)

		auditJobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "auditly_job_duration_seconds",
				Help:    "Histogram of scan job durations from lease to finalize.",
				Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"status"},
		)

		auditCheckDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "auditly_check_duration_seconds",
				Help:    "Histogram of audit check durations, labeled by check and outcome.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"check", "outcome"},
		)

		auditLinkProbesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auditly_link_probes_total",
				Help: "Total number of HEAD link probes, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		auditReportBytes = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "auditly_report_bytes",
				Help:    "Size of rendered PDF reports.",
				Buckets: prometheus.ExponentialBuckets(16*1024, 2, 8),
			},
		)

		auditActiveJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "auditly_active_jobs",
				Help: "Number of scan jobs currently being processed.",
			},
		)

		auditFinalizeFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "auditly_finalize_failures_total",
				Help: "Total number of jobs whose terminal status could not be written.",
			},
		)

		auditRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "auditly_rate_limit_delays_seconds",
				Help:    "Histogram of link probe rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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

// ObserveJob records a finalized job.
func ObserveJob(status string, duration time.Duration) {
	Init()
	auditJobsTotal.WithLabelValues(status).Inc()
	auditJobDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
}

// ObserveCheck records the duration of one audit check.
func ObserveCheck(check string, ok bool, duration time.Duration) {
	Init()
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	auditCheckDurationSeconds.WithLabelValues(check, outcome).Observe(duration.Seconds())
}

// ObserveLinkProbe counts a HEAD probe. Outcome is "ok", "broken" or "error".
func ObserveLinkProbe(site, outcome string) {
	Init()
	auditLinkProbesTotal.WithLabelValues(SanitizeSite(site), outcome).Inc()
}

// ObserveReportSize records a rendered report's size in bytes.
func ObserveReportSize(size int) {
	Init()
	auditReportBytes.Observe(float64(size))
}

// IncActiveJobs increments the active jobs gauge.
func IncActiveJobs() {
	Init()
	auditActiveJobs.Inc()
}

// DecActiveJobs decrements the active jobs gauge.
func DecActiveJobs() {
	Init()
	auditActiveJobs.Dec()
}

// ObserveFinalizeFailure counts a failed terminal write.
func ObserveFinalizeFailure() {
	Init()
	auditFinalizeFailuresTotal.Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	auditRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
