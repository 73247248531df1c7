// Listmirror - MLS Listing Feed Replication Worker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listmirror

// Package metrics exposes Prometheus instrumentation for the replication
// engine: feed request latency and errors, per-cycle record counts, media
// download throughput, and rate-limiter occupancy.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Feed client metrics
	FeedRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feed_request_duration_seconds",
			Help:    "Duration of feed API requests in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"resource"},
	)

	FeedRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_requests_total",
			Help: "Total feed API requests by HTTP status",
		},
		[]string{"resource", "status"},
	)

	FeedRateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feed_rate_limit_hits_total",
			Help: "Total HTTP 429 responses from the feed",
		},
	)

	FeedBytesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feed_bytes_received_total",
			Help: "Total response bytes received from the feed",
		},
	)

	// Replication cycle metrics
	CycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "replication_cycle_duration_seconds",
			Help:    "Duration of replication cycles in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"resource", "mode"},
	)

	CycleRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replication_records_total",
			Help: "Records processed by outcome (inserted, updated, deleted, skipped)",
		},
		[]string{"resource", "outcome"},
	)

	CycleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replication_errors_total",
			Help: "Per-record and per-cycle errors by type",
		},
		[]string{"resource", "error_type"}, // "mapping", "persistence", "api", "rate_limited"
	)

	CycleLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "replication_last_success_timestamp",
			Help: "Unix timestamp of the last completed or partial cycle",
		},
		[]string{"resource"},
	)

	// Media subsystem metrics
	MediaDownloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_downloads_total",
			Help: "Media download attempts by outcome (complete, failed, expired, rate_limited)",
		},
		[]string{"outcome"},
	)

	MediaBytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_bytes_downloaded_total",
			Help: "Total media bytes downloaded from the CDN",
		},
	)

	MediaInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_downloads_in_flight",
			Help: "Media downloads currently in flight in the background worker",
		},
	)

	MediaPendingQueue = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_pending_queue_depth",
			Help: "Rows in pending_download at the last worker poll",
		},
	)

	// Circuit breaker metrics
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feed_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	BreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_breaker_requests_total",
			Help: "Requests through the circuit breaker by outcome (success, failure, rejected)",
		},
		[]string{"name", "outcome"},
	)

	// Rate limiter metrics
	LimiterAPIWindowOccupancy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "limiter_api_window_occupancy_percent",
			Help: "API request window occupancy as percent of hard cap",
		},
		[]string{"window"}, // "1s", "1h", "24h"
	)

	LimiterMediaWindowBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "limiter_media_window_bytes",
			Help: "Media bytes recorded in the rolling 60-minute window",
		},
	)

	LimiterWaits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "limiter_waits_total",
			Help: "Admissions that had to wait, by dimension (api, media)",
		},
		[]string{"dimension"},
	)
)

// ObserveFeedRequest records one feed request's latency, status, and size.
// Status 0 means the request never produced an HTTP response.
func ObserveFeedRequest(resource string, status int, elapsed time.Duration, bytes int64) {
	FeedRequestDuration.WithLabelValues(resource).Observe(elapsed.Seconds())
	FeedRequestsTotal.WithLabelValues(resource, strconv.Itoa(status)).Inc()
	if bytes > 0 {
		FeedBytesReceived.Add(float64(bytes))
	}
}
