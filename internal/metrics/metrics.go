// Package metrics exposes Prometheus collectors for the search crawler.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesTotal                 *prometheus.CounterVec
	fetchesTotal               *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	recordsTotal               prometheus.Counter
	extractionFailuresTotal    prometheus.Counter
	pacingDelaySeconds         prometheus.Histogram
	searchesTotal              *prometheus.CounterVec
	cacheLookupsTotal          *prometheus.CounterVec
	linkChecksTotal            *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "affiliate_pages_total",
				Help: "Search result pages processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "affiliate_fetches_total",
				Help: "Outbound page fetches, labeled by backend and result.",
			},
			[]string{"backend", "result"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "affiliate_fetch_duration_seconds",
				Help:    "Histogram of page fetch latencies, labeled by backend.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"backend"},
		)

		recordsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "affiliate_records_total",
				Help: "Product records extracted.",
			},
		)

		extractionFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "affiliate_extraction_failures_total",
				Help: "Containers skipped because extraction failed unexpectedly.",
			},
		)

		pacingDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "affiliate_pacing_delay_seconds",
				Help:    "Histogram of deliberate delays inserted between requests and pages.",
				Buckets: []float64{0.1, 0.5, 1, 2, 3, 5, 10},
			},
		)

		searchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "affiliate_searches_total",
				Help: "Search jobs finished, labeled by status.",
			},
			[]string{"status"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "affiliate_page_cache_lookups_total",
				Help: "Page cache lookups, labeled by result.",
			},
			[]string{"result"},
		)

		linkChecksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "affiliate_link_checks_total",
				Help: "Affiliate link health checks, labeled by verdict.",
			},
			[]string{"verdict"},
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// Label lowercases v and maps empty values to "unknown".
func Label(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return "unknown"
	}
	return v
}

// ObservePage counts one processed search page.
func ObservePage(outcome string) {
	Init()
	pagesTotal.WithLabelValues(Label(outcome)).Inc()
}

// ObserveFetch records a backend fetch and its latency.
func ObserveFetch(backend, result string, duration time.Duration) {
	Init()
	fetchesTotal.WithLabelValues(Label(backend), Label(result)).Inc()
	fetchDurationSeconds.WithLabelValues(Label(backend)).Observe(duration.Seconds())
}

// ObserveRecords adds n extracted records.
func ObserveRecords(n int) {
	Init()
	if n > 0 {
		recordsTotal.Add(float64(n))
	}
}

// ObserveExtractionFailure counts a container that failed extraction.
func ObserveExtractionFailure() {
	Init()
	extractionFailuresTotal.Inc()
}

// ObservePacingDelay records a deliberate sleep.
func ObservePacingDelay(duration time.Duration) {
	Init()
	pacingDelaySeconds.Observe(duration.Seconds())
}

// ObserveSearch counts a finished search job.
func ObserveSearch(status string) {
	Init()
	searchesTotal.WithLabelValues(Label(status)).Inc()
}

// ObserveCacheLookup counts a page cache hit, miss or error.
func ObserveCacheLookup(result string) {
	Init()
	cacheLookupsTotal.WithLabelValues(Label(result)).Inc()
}

// ObserveLinkCheck counts a link health verdict.
func ObserveLinkCheck(verdict string) {
	Init()
	linkChecksTotal.WithLabelValues(Label(verdict)).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
