// Package metrics exposes Prometheus collectors for the mirror service.
// Run-scoped crawl progress is exported by the progress sinks; this package
// covers the service surface: HTTP API traffic, job outcomes, worker
// saturation, and rate limiter stalls.
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
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	jobsTotal                  *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registerer. Repeated calls
// are no-ops, so every entry point that needs metrics may call it.
func Init() {
	once.Do(register)
}

func register() {
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests served, by method and status code.",
		},
		[]string{"method", "code"},
	)
	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency, by method and route pattern.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)
	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitemirror_jobs_total",
			Help: "Crawl jobs that reached a terminal status.",
		},
		[]string{"status"},
	)
	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sitemirror_active_workers",
			Help: "Workers currently executing a job.",
		},
	)
	rateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sitemirror_rate_limit_delays_seconds",
			Help:    "Time spent waiting on the per-domain rate limiter.",
			Buckets: []float64{0.05, 0.25, 1, 5, 15, 60},
		},
		[]string{"domain"},
	)
}

// Handler serves the Prometheus exposition endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest records one served request on the traffic collectors.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJob counts a job that reached the given terminal status.
func ObserveJob(status string) {
	jobsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers marks one more worker as busy.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers marks one worker as idle again.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records how long a fetch waited for its domain slot.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// SanitizeSite reduces a raw URL to a lowercase hostname suitable for a
// metric label. Anything unparseable collapses into "unknown".
func SanitizeSite(rawURL string) string {
	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "unknown"
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "unknown"
	}
	return host
}
