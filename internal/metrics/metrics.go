// Package metrics exposes Prometheus collectors for the exercise crawler.
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
	crawlerTasksTotal             *prometheus.CounterVec
	crawlerTaskDurationSeconds    *prometheus.HistogramVec
	crawlerFetchesTotal           *prometheus.CounterVec
	crawlerBytesTotal             *prometheus.CounterVec
	crawlerCacheLookupsTotal      *prometheus.CounterVec
	crawlerCacheWritesTotal       *prometheus.CounterVec
	crawlerParserFallbackTotal    *prometheus.CounterVec
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerTasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_tasks_total",
				Help: "Total number of dispatched crawl tasks, labeled by task kind and status.",
			},
			[]string{"task", "status"},
		)

		crawlerTaskDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_task_duration_seconds",
				Help:    "Histogram of crawl task durations, labeled by task kind.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"task"},
		)

		crawlerFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetches_total",
				Help: "Total number of page fetches, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerCacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_cache_lookups_total",
				Help: "Total number of cache lookups, labeled by outcome (hit, miss, expired, error).",
			},
			[]string{"outcome"},
		)

		crawlerCacheWritesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_cache_writes_total",
				Help: "Total number of cache writes, labeled by status.",
			},
			[]string{"status"},
		)

		crawlerParserFallbackTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_parser_fallback_total",
				Help: "Total number of times the parser fell back to its secondary scheme.",
			},
			[]string{"scheme"},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
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
	Init()
	return promhttp.Handler()
}

// ObserveTask records a dispatched crawl task and its duration.
func ObserveTask(task, status string, duration time.Duration) {
	Init()
	crawlerTasksTotal.WithLabelValues(task, status).Inc()
	crawlerTaskDurationSeconds.WithLabelValues(task).Observe(duration.Seconds())
}

// ObserveFetch increments the fetch metrics.
func ObserveFetch(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	crawlerFetchesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveCacheLookup records a cache lookup outcome.
func ObserveCacheLookup(outcome string) {
	Init()
	crawlerCacheLookupsTotal.WithLabelValues(outcome).Inc()
}

// ObserveCacheWrite records a cache write outcome.
func ObserveCacheWrite(status string) {
	Init()
	crawlerCacheWritesTotal.WithLabelValues(status).Inc()
}

// ObserveParserFallback records that the parser used its secondary scheme.
func ObserveParserFallback(scheme string) {
	Init()
	crawlerParserFallbackTotal.WithLabelValues(scheme).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
