// Frontline - Strategy Game World Event Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/frontline

// Package metrics registers the Prometheus collectors for the ingestion,
// dedup, reconstruction, caching and scraping stages.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion
	IngestReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frontline_ingest_received_total",
			Help: "Raw events accepted into the ingestion queue",
		},
		[]string{"source_type"},
	)

	IngestFlushed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frontline_ingest_flushed_total",
			Help: "Raw events written to the raw event store",
		},
		[]string{"source_type"},
	)

	IngestDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frontline_ingest_dropped_total",
			Help: "Raw events lost to failed flushes",
		},
		[]string{"source_type"},
	)

	IngestFlushDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "frontline_ingest_flush_duration_seconds",
			Help:    "Duration of raw event bulk inserts",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source_type"},
	)

	IngestBufferDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "frontline_ingest_buffer_depth",
			Help: "Raw events waiting in the in-memory buffer",
		},
		[]string{"source_type"},
	)

	// Dedup
	DedupActivities = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frontline_dedup_activities_total",
			Help: "Canonical activities processed by the deduplicator",
		},
		[]string{"result"}, // "inserted", "updated", "unchanged", "failed"
	)

	// Reconstruction
	TileResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frontline_tile_resolutions_total",
			Help: "Combat records resolved by outcome",
		},
		[]string{"outcome"}, // CAPTURE, NEUTRALIZE, REPEL, REINFORCE, ambiguous, invalid, failed
	)

	PipelineRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "frontline_pipeline_run_duration_seconds",
			Help:    "Duration of dedup plus reconstruction runs",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
	)

	PipelineRunsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "frontline_pipeline_runs_skipped_total",
			Help: "Pipeline runs skipped because one was already in progress for the scope",
		},
	)

	// Report cache
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frontline_report_cache_hits_total",
			Help: "Report cache hits",
		},
		[]string{"report_type"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frontline_report_cache_misses_total",
			Help: "Report cache misses, including stale entries",
		},
		[]string{"report_type"},
	)

	// Scraper
	ScraperRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frontline_scraper_requests_total",
			Help: "Case data requests issued by the scraper",
		},
		[]string{"status"}, // "ok", "error"
	)

	ScraperFailedCells = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "frontline_scraper_failed_cells_total",
			Help: "Cells abandoned after exhausting retries",
		},
	)

	// Game API
	GameAPIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "frontline_game_api_request_duration_seconds",
			Help:    "Game API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "frontline_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// HTTP API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frontline_api_requests_total",
			Help: "HTTP API requests",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "frontline_api_request_duration_seconds",
			Help:    "HTTP API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordFlush records the outcome of one ingestion flush.
func RecordFlush(sourceType string, saved, dropped int, duration time.Duration) {
	IngestFlushDuration.WithLabelValues(sourceType).Observe(duration.Seconds())
	if saved > 0 {
		IngestFlushed.WithLabelValues(sourceType).Add(float64(saved))
	}
	if dropped > 0 {
		IngestDropped.WithLabelValues(sourceType).Add(float64(dropped))
	}
}

// RecordCacheLookup records a report cache hit or miss.
func RecordCacheLookup(reportType string, hit bool) {
	if hit {
		CacheHits.WithLabelValues(reportType).Inc()
		return
	}
	CacheMisses.WithLabelValues(reportType).Inc()
}

// RecordScraperRequest records one case data request.
func RecordScraperRequest(err error) {
	if err != nil {
		ScraperRequests.WithLabelValues("error").Inc()
		return
	}
	ScraperRequests.WithLabelValues("ok").Inc()
}

// RecordAPIRequest records an HTTP API request.
func RecordAPIRequest(method, route, status string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, status).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
