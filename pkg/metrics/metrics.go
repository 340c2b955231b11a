// Package metrics provides Prometheus metrics for clover runs.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts pipeline runs by pipeline and status.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "runs",
			Name:      "total",
			Help:      "Total number of pipeline runs by status",
		},
		[]string{"pipeline", "status"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "runs",
			Name:      "duration_seconds",
			Help:      "Duration of pipeline runs in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"pipeline"},
	)

	// CatalogEntitiesTotal counts catalog outcomes by entity (product, size) and outcome.
	CatalogEntitiesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "catalog",
			Name:      "entities_total",
			Help:      "Catalog rows by entity and outcome",
		},
		[]string{"entity", "outcome"},
	)

	CatalogRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "catalog",
			Name:      "rejections_total",
			Help:      "Cards rejected by validation",
		},
	)

	DailyStatsUpsertedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "adv_stats",
			Name:      "daily_stats_upserted_total",
			Help:      "Campaign daily stat rows inserted or changed",
		},
	)

	// ConversionStatsTotal counts cr_daily_stats rows by outcome (upserted, skipped, mismatched).
	ConversionStatsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "cr_stats",
			Name:      "rows_total",
			Help:      "Conversion daily stat rows by outcome",
		},
		[]string{"outcome"},
	)

	// AdvParamsTotal counts aggregated adv params by outcome (inserted, changed, unchanged, orphaned).
	AdvParamsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "adv_params",
			Name:      "rows_total",
			Help:      "Adv params rows by aggregation outcome",
		},
		[]string{"outcome"},
	)

	// MarketplaceRequestsTotal counts outbound marketplace requests, including retried attempts.
	MarketplaceRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "marketplace",
			Name:      "requests_total",
			Help:      "Total number of outbound marketplace requests",
		},
		[]string{"method", "status_code"},
	)

	MarketplaceRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "marketplace",
			Name:      "request_duration_seconds",
			Help:      "Duration of outbound marketplace requests in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Duration of control surface requests in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 30, 120, 300},
		},
		[]string{"method", "route", "status_code"},
	)

	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Change events published by type",
		},
		[]string{"event_type"},
	)
)

// ObserveRun records the outcome and duration of one pipeline run.
func ObserveRun(pipeline string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	RunsTotal.WithLabelValues(pipeline, status).Inc()
	RunDuration.WithLabelValues(pipeline).Observe(time.Since(start).Seconds())
}

// RecordMarketplaceRequest records one outbound attempt. statusCode is "error" for transport failures.
func RecordMarketplaceRequest(method, statusCode string, duration time.Duration) {
	MarketplaceRequestsTotal.WithLabelValues(method, statusCode).Inc()
	MarketplaceRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func RecordAPIRequest(method, route string, status int, duration time.Duration) {
	APIRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(duration.Seconds())
}
