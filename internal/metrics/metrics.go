// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerRunsTotal              *prometheus.CounterVec
	crawlerRunDurationSeconds     prometheus.Histogram
	crawlerRecordsTotal           *prometheus.CounterVec
	crawlerStoreCommandsTotal     *prometheus.CounterVec
	crawlerFetchDurationSeconds   *prometheus.HistogramVec
	crawlerActiveWorkers          prometheus.Gauge
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_runs_total",
				Help: "Total number of crawl runs, labeled by final status.",
			},
			[]string{"status"},
		)

		crawlerRunDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawler_run_duration_seconds",
				Help:    "Histogram of full run wall-clock durations.",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
			},
		)

		crawlerRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_records_total",
				Help: "Total number of records processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		crawlerStoreCommandsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_store_commands_total",
				Help: "Total number of remote store commands, labeled by command and outcome.",
			},
			[]string{"command", "outcome"},
		)

		crawlerFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_fetch_duration_seconds",
				Help:    "Histogram of upstream fetch latencies, labeled by endpoint.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"endpoint"},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of workers currently processing a record.",
			},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeDomain sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeDomain(rawURL string) string {
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

// ObserveRun records the final status and duration of a run.
func ObserveRun(status string, duration time.Duration) {
	Init()
	crawlerRunsTotal.WithLabelValues(status).Inc()
	crawlerRunDurationSeconds.Observe(duration.Seconds())
}

// ObserveRecord increments the record counter for the given outcome.
func ObserveRecord(outcome string) {
	Init()
	crawlerRecordsTotal.WithLabelValues(outcome).Inc()
}

// ObserveStoreCommand increments the store command counter.
func ObserveStoreCommand(command, outcome string) {
	Init()
	crawlerStoreCommandsTotal.WithLabelValues(command, outcome).Inc()
}

// ObserveFetch records the latency of one upstream request.
func ObserveFetch(endpoint string, duration time.Duration) {
	Init()
	crawlerFetchDurationSeconds.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	crawlerActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
