// Rallypoint - Team Engagement & Events Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rallypoint

// Package metrics provides Prometheus collectors for the sync layer.
//
// Metrics are exposed at /metrics in Prometheus text format. They are
// the operational window into a layer that absorbs failures by design:
// a caller never sees a remote error, so pending_operations and
// connection_status are where degradation becomes visible.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits counts successful typed cache reads.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sync_cache_hits_total",
		Help: "Total local cache hits",
	})

	// CacheMisses counts cache reads that found no compatible value.
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sync_cache_misses_total",
		Help: "Total local cache misses",
	})

	// CacheKeys tracks the current number of cached keys.
	CacheKeys = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sync_cache_keys",
		Help: "Current number of keys in the local cache",
	})

	// PendingOperations tracks the current pending-operation queue
	// depth. Non-zero means deferred writes are awaiting replay.
	PendingOperations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sync_pending_operations",
		Help: "Current number of queued write operations awaiting replay",
	})

	// QueuedOperations counts writes deferred because the remote
	// store was unavailable, by operation type.
	QueuedOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_queued_operations_total",
		Help: "Total write operations queued after a remote failure",
	}, []string{"type"})

	// ReplayedOperations counts successfully replayed operations.
	ReplayedOperations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sync_replayed_operations_total",
		Help: "Total queued operations successfully replayed",
	})

	// DroppedOperations counts operations discarded by the
	// replay-conflict policy after exhausting their attempts.
	DroppedOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_dropped_operations_total",
		Help: "Total queued operations dropped after repeated replay failures",
	}, []string{"type"})

	// RemoteRequestDuration observes remote document store call
	// latency by operation.
	RemoteRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sync_remote_request_duration_seconds",
		Help:    "Remote document store request latency",
		Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 10},
	}, []string{"operation"})

	// RemoteFailures counts remote calls classified unavailable.
	RemoteFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_remote_failures_total",
		Help: "Total remote document store calls classified unavailable",
	}, []string{"operation"})

	// ConnectionStatus reports the derived connectivity state:
	// 0=connected, 1=degraded, 2=disconnected.
	ConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sync_connection_status",
		Help: "Derived connection status (0=connected, 1=degraded, 2=disconnected)",
	})

	// SnapshotsReceived counts push snapshots delivered per stream
	// cache key.
	SnapshotsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_snapshots_received_total",
		Help: "Total push snapshots received by live streams",
	}, []string{"key"})

	// StreamSubscribers tracks currently attached stream consumers.
	StreamSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sync_stream_subscribers",
		Help: "Currently attached snapshot stream subscribers",
	})

	// CircuitBreakerState reports breaker state per name:
	// 0=closed, 1=open, 2=half-open.
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sync_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"name"})
)
