// Package metrics exposes Prometheus collectors for the posting store.
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

// Posting outcomes recorded by ObservePosting.
const (
	OutcomeInserted  = "inserted"
	OutcomeDuplicate = "duplicate"
	OutcomeMalformed = "malformed"
	OutcomeCached    = "cached"
)

var (
	postingsTotal              *prometheus.CounterVec
	applicationsTotal          *prometheus.CounterVec
	storeOpsTotal              *prometheus.CounterVec
	storeOpDurationSeconds     *prometheus.HistogramVec
	storeBytesWrittenTotal     *prometheus.CounterVec
	rebuildRecordsTotal        *prometheus.CounterVec
	invocationsTotal           *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaySeconds      *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		postingsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobstore_postings_total",
				Help: "Total number of candidate postings processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		applicationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobstore_applications_total",
				Help: "Total number of click events processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		storeOpsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobstore_object_store_ops_total",
				Help: "Object store operations, labeled by backend, op and result.",
			},
			[]string{"backend", "op", "result"},
		)

		storeOpDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jobstore_object_store_op_duration_seconds",
				Help:    "Histogram of object store call latencies.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"backend", "op"},
		)

		storeBytesWrittenTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobstore_object_store_bytes_written_total",
				Help: "Bytes written to the object store, labeled by backend.",
			},
			[]string{"backend"},
		)

		rebuildRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobstore_rebuild_records_total",
				Help: "Records refolded by the rebuild pass, labeled by month.",
			},
			[]string{"month"},
		)

		invocationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobstore_invocations_total",
				Help: "Invocations (ingest, rebuild, applied) labeled by kind and status.",
			},
			[]string{"kind", "status"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobstore_http_requests_total",
				Help: "HTTP requests by method, API surface and status code.",
			},
			[]string{"method", "surface", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jobstore_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jobstore_feed_rate_limit_delay_seconds",
				Help:    "Time feed requests spent waiting on the per-host rate limiter.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"host"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePosting counts one candidate posting outcome.
func ObservePosting(outcome string) {
	Init()
	postingsTotal.WithLabelValues(outcome).Inc()
}

// ObserveApplication counts one click event outcome.
func ObserveApplication(outcome string) {
	Init()
	applicationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveStoreOp records a single object store call.
func ObserveStoreOp(backend, op string, err error, duration time.Duration) {
	Init()
	result := "ok"
	if err != nil {
		result = "error"
	}
	storeOpsTotal.WithLabelValues(backend, op, result).Inc()
	storeOpDurationSeconds.WithLabelValues(backend, op).Observe(duration.Seconds())
}

// ObserveBytesWritten adds n to the written-bytes counter.
func ObserveBytesWritten(backend string, n int) {
	Init()
	if n > 0 {
		storeBytesWrittenTotal.WithLabelValues(backend).Add(float64(n))
	}
}

// ObserveRebuild adds the number of records refolded for month.
func ObserveRebuild(month string, records int) {
	Init()
	rebuildRecordsTotal.WithLabelValues(month).Add(float64(records))
}

// ObserveInvocation counts one finished invocation.
func ObserveInvocation(kind, status string) {
	Init()
	invocationsTotal.WithLabelValues(kind, status).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics. route is the chi
// route pattern, so archive months and other path values never become
// label values.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, Surface(route), strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records how long a feed request waited for host.
func ObserveRateLimitDelay(host string, d time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(host).Observe(d.Seconds())
}
