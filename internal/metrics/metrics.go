package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "crypto_analytics"

// Collectors are registered with the default registry and served on /metrics.
var (
	DetectionCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "crossover",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of full crossover detection cycles",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	CrossoversDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crossover",
			Name:      "detected_total",
			Help:      "Crossovers emitted, by type",
		},
		[]string{"type"},
	)

	AssetFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crossover",
			Name:      "asset_failures_total",
			Help:      "Assets skipped in a cycle because of an error",
		},
		[]string{"asset_id"},
	)

	RuleUpdateFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crossover",
			Name:      "rule_update_failures_total",
			Help:      "Rule state updates that could not be persisted",
		},
	)

	GarchFitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "garch",
			Name:      "fit_duration_seconds",
			Help:      "Duration of GARCH(1,1) fits",
			Buckets:   prometheus.DefBuckets,
		},
	)

	GarchFitErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "garch",
			Name:      "fit_errors_total",
			Help:      "GARCH fits that returned an error, by reason",
		},
		[]string{"reason"},
	)

	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "Cache lookups by cache name and result",
		},
		[]string{"cache", "result"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route template, method and status",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration by route template and method",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"route", "method"},
	)
)
