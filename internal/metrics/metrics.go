// Package metrics exposes Prometheus collectors for the harvester service.
package metrics

import (
	"net/http"
	"strconv"
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
	activeRunners              prometheus.Gauge
	collectorFailuresTotal     *prometheus.CounterVec
	queueDepth                 prometheus.Gauge

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

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_jobs_total",
				Help: "Total number of harvest jobs processed, labeled by terminal state.",
			},
			[]string{"state"},
		)

		activeRunners = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_runners",
				Help: "Number of runners currently executing a job pipeline.",
			},
		)

		collectorFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_collector_failures_total",
				Help: "Collector boundary failures, labeled by kind.",
			},
			[]string{"kind"},
		)

		queueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_queue_depth",
				Help: "Number of async jobs waiting for a runner.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJob increments the job counter for the given terminal state.
func ObserveJob(state string) {
	jobsTotal.WithLabelValues(state).Inc()
}

// ObserveCollectorFailure increments the collector failure counter.
func ObserveCollectorFailure(kind string) {
	collectorFailuresTotal.WithLabelValues(kind).Inc()
}

// IncActiveRunners increments the active runners gauge.
func IncActiveRunners() {
	activeRunners.Inc()
}

// DecActiveRunners decrements the active runners gauge.
func DecActiveRunners() {
	activeRunners.Dec()
}

// SetQueueDepth records the current async queue depth.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}
