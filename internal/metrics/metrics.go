// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts requests by method, route pattern and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apex_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "apex_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"method", "path"},
	)

	// IndexedVectors tracks the number of vectors in the in-memory graph.
	IndexedVectors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "apex_vectors_total",
			Help: "Total number of indexed vectors",
		},
	)

	// IndexOperationDuration times index operations: add, search, rebuild.
	IndexOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "apex_index_operation_duration_seconds",
			Help:    "Duration of index operations in seconds",
			Buckets: prometheus.ExponentialBuckets(0.00005, 4, 10),
		},
		[]string{"operation"},
	)

	// IndexErrorsTotal counts failed index operations by operation and reason.
	IndexErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apex_index_errors_total",
			Help: "Total number of failed index operations",
		},
		[]string{"operation", "reason"},
	)
)
