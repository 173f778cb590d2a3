// Package metrics is the one Prometheus registry shared by the HTTP
// server and the document engine. Splitting it out of server lets
// docengine record commit/retry metrics without importing the HTTP
// layer.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry is the custom registry passed to promhttp.HandlerFor,
// instead of prometheus.DefaultRegisterer, so process/runtime metrics
// are collected exactly once regardless of how many packages import
// this one.
var Registry = prometheus.NewRegistry()

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	storeCommitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_commit_duration_seconds",
			Help:    "Duration of document engine commit operations",
			Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 0.2, 0.5, 1, 1.5, 2},
		},
		[]string{"operation"},
	)

	storeBusyRetries = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_busy_retries",
			Help:    "Number of SQLITE_BUSY retries observed before a commit succeeded or gave up",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 10, 20},
		},
		[]string{"operation", "status"},
	)

	storeCommitFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_commit_failures_total",
			Help: "Total number of failed document engine commits",
		},
		[]string{"operation", "error_type"},
	)
)

func init() {
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(HTTPRequestsTotal)
	Registry.MustRegister(HTTPRequestDuration)
	Registry.MustRegister(storeCommitDuration)
	Registry.MustRegister(storeBusyRetries)
	Registry.MustRegister(storeCommitFailures)
}

// ObserveCommit records how long operation's successful commit took.
func ObserveCommit(operation string, d time.Duration) {
	storeCommitDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// ObserveBusyRetries records how many SQLITE_BUSY retries operation
// needed before resolving as status ("ok" or "gave_up").
func ObserveBusyRetries(operation, status string, attempts int) {
	storeBusyRetries.WithLabelValues(operation, status).Observe(float64(attempts))
}

// IncCommitFailure records a non-retryable commit failure.
func IncCommitFailure(operation string, err error) {
	storeCommitFailures.WithLabelValues(operation, fmt.Sprintf("%T", err)).Inc()
}
