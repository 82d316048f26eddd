// Package telemetry provides Prometheus instrumentation and OpenTelemetry
// tracing for FraudGuard.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// PredictionsTotal counts scored records by risk level.
	PredictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudguard",
			Name:      "predictions_total",
			Help:      "Total predictions by risk level.",
		},
		[]string{"risk_level"},
	)

	// PredictionFailuresTotal counts records that could not be scored.
	PredictionFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudguard",
			Name:      "prediction_failures_total",
			Help:      "Total prediction failures by reason.",
		},
		[]string{"reason"},
	)

	// PredictionDuration observes per-record scoring latency.
	PredictionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fraudguard",
		Name:      "prediction_duration_seconds",
		Help:      "Per-record scoring latency in seconds.",
		Buckets:   []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
	})

	// TrainingRunsTotal counts training attempts by outcome.
	TrainingRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudguard",
			Name:      "training_runs_total",
			Help:      "Total training runs by status.",
		},
		[]string{"status"},
	)

	// TrainingDuration observes wall time of successful training runs.
	TrainingDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fraudguard",
		Name:      "training_duration_seconds",
		Help:      "Training run duration in seconds.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	// ModelAUC reports the held-out AUC of the served artifact per strategy.
	ModelAUC = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fraudguard",
			Name:      "model_auc",
			Help:      "Held-out AUC of the served model by strategy.",
		},
		[]string{"strategy"},
	)

	// HTTPRequestsTotal counts HTTP requests by method, route and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudguard",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and route.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fraudguard",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds by method and route pattern.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// EventsProcessedTotal counts bus messages handled by the worker.
	EventsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudguard",
			Name:      "events_processed_total",
			Help:      "Total bus events processed by topic and result.",
		},
		[]string{"topic", "result"},
	)

	// PredictionCacheTotal counts idempotency cache lookups by result.
	PredictionCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudguard",
			Name:      "prediction_cache_total",
			Help:      "Prediction cache lookups by result (hit, miss, error).",
		},
		[]string{"result"},
	)

	// EventsDroppedTotal counts bus deliveries skipped because the receiver
	// could not keep up.
	EventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudguard",
			Name:      "events_dropped_total",
			Help:      "Total bus deliveries dropped by topic.",
		},
		[]string{"topic"},
	)
)

func init() {
	prometheus.MustRegister(
		PredictionsTotal,
		PredictionFailuresTotal,
		PredictionDuration,
		TrainingRunsTotal,
		TrainingDuration,
		ModelAUC,
		HTTPRequestsTotal,
		HTTPRequestDuration,
		EventsProcessedTotal,
		EventsDroppedTotal,
		PredictionCacheTotal,
	)
}
