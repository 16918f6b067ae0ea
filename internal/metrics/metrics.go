// Package metrics exposes Prometheus collectors for the harvester.
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

// Frame fetch outcomes used as the "status" label.
const (
	FrameSuccess    = "success"
	FrameNoURL      = "no_url"
	FrameFetchError = "fetch_error"
	FrameWriteError = "write_error"
)

// Metadata scrape outcomes used as the "status" label.
const (
	ScrapeLive  = "live"
	ScrapeDown  = "down"
	ScrapeError = "error"
)

var (
	harvesterFramesTotal          *prometheus.CounterVec
	harvesterFrameBytesTotal      *prometheus.CounterVec
	harvesterFrameFetchSeconds    *prometheus.HistogramVec
	harvesterScrapesTotal         *prometheus.CounterVec
	harvesterDispatchCyclesTotal  prometheus.Counter
	harvesterFallingBehindTotal   *prometheus.CounterVec
	harvesterQueueDepth           prometheus.Gauge
	harvesterActiveWorkers        prometheus.Gauge
	harvesterRateLimitDelaySecond *prometheus.HistogramVec
	harvesterHTTPRequestsTotal    *prometheus.CounterVec
	harvesterHTTPRequestSeconds   *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		harvesterFramesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_frames_total",
				Help: "Total number of frame fetch attempts, labeled by source and status.",
			},
			[]string{"source", "status"},
		)

		harvesterFrameBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_frame_bytes_total",
				Help: "Total number of frame bytes written, labeled by source.",
			},
			[]string{"source"},
		)

		harvesterFrameFetchSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_frame_fetch_seconds",
				Help:    "Histogram of frame fetch latencies, labeled by source.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"source"},
		)

		harvesterScrapesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_metadata_scrapes_total",
				Help: "Total number of metadata scrapes, labeled by source and status.",
			},
			[]string{"source", "status"},
		)

		harvesterDispatchCyclesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_dispatch_cycles_total",
				Help: "Total number of dispatch cycles that enqueued the live webcams.",
			},
		)

		harvesterFallingBehindTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_falling_behind_total",
				Help: "Total number of falling-behind warnings, labeled by reason.",
			},
			[]string{"reason"},
		)

		harvesterQueueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_queue_depth",
				Help: "Number of webcams waiting in the work queue.",
			},
		)

		harvesterActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_workers",
				Help: "Number of running frame workers.",
			},
		)

		harvesterRateLimitDelaySecond = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		harvesterHTTPRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_http_requests_total",
				Help: "Total number of status API requests, labeled by method, route and status code.",
			},
			[]string{"method", "route", "code"},
		)

		harvesterHTTPRequestSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_http_request_duration_seconds",
				Help:    "Histogram of status API request latencies.",
				Buckets: prometheus.DefBuckets,
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

// ObserveFrame records one frame fetch attempt.
func ObserveFrame(source, status string, bytesWritten int, duration time.Duration) {
	Init()
	harvesterFramesTotal.WithLabelValues(source, status).Inc()
	if bytesWritten > 0 {
		harvesterFrameBytesTotal.WithLabelValues(source).Add(float64(bytesWritten))
	}
	if duration > 0 {
		harvesterFrameFetchSeconds.WithLabelValues(source).Observe(duration.Seconds())
	}
}

// ObserveScrape records one metadata scrape.
func ObserveScrape(source, status string) {
	Init()
	harvesterScrapesTotal.WithLabelValues(source, status).Inc()
}

// ObserveDispatchCycle increments the dispatch cycle counter.
func ObserveDispatchCycle() {
	Init()
	harvesterDispatchCyclesTotal.Inc()
}

// ObserveFallingBehind records a falling-behind warning.
func ObserveFallingBehind(reason string) {
	Init()
	harvesterFallingBehindTotal.WithLabelValues(reason).Inc()
}

// SetQueueDepth reports the current work queue length.
func SetQueueDepth(n int) {
	Init()
	harvesterQueueDepth.Set(float64(n))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	harvesterActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	harvesterActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	harvesterRateLimitDelaySecond.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest records one status API request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	harvesterHTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	harvesterHTTPRequestSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
