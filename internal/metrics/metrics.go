// Package metrics exposes prometheus instrumentation for the upload engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UploadsInitiatedTotal counts created upload sessions.
	UploadsInitiatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "torrin_uploads_initiated_total",
			Help: "Total number of upload sessions initiated",
		},
	)

	// UploadsCompletedTotal counts finalized upload sessions.
	UploadsCompletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "torrin_uploads_completed_total",
			Help: "Total number of upload sessions completed",
		},
	)

	// UploadsAbortedTotal counts aborted upload sessions.
	UploadsAbortedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "torrin_uploads_aborted_total",
			Help: "Total number of upload sessions aborted",
		},
	)

	// ChunksReceivedTotal counts accepted chunks.
	ChunksReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "torrin_chunks_received_total",
			Help: "Total number of chunks accepted",
		},
	)

	// ChunkBytesTotal counts accepted chunk payload bytes.
	ChunkBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "torrin_chunk_bytes_total",
			Help: "Total chunk payload bytes accepted",
		},
	)

	// SessionsCleanedTotal counts sessions removed by cleanup sweeps.
	SessionsCleanedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "torrin_sessions_cleaned_total",
			Help: "Total number of sessions removed by cleanup sweeps",
		},
	)

	// ErrorsTotal counts typed upload errors by code.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "torrin_errors_total",
			Help: "Total number of upload errors by code",
		},
		[]string{"code"},
	)

	// HTTPRequestsTotal counts HTTP requests by method, route and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "torrin_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "torrin_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "route"},
	)

	// ChunkSizeBytes tracks the distribution of accepted chunk sizes.
	ChunkSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "torrin_chunk_size_bytes",
			Help:    "Distribution of accepted chunk sizes",
			Buckets: prometheus.ExponentialBuckets(256*1024, 2, 10),
		},
	)
)
