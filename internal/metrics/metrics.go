// Package metrics exposes Prometheus metrics for the engine
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the engine
type Metrics struct {
	// Prediction metrics
	Predictions       *prometheus.CounterVec
	PredictionLatency prometheus.Histogram

	// Execution metrics
	Executions        *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	StepsExecuted     *prometheus.CounterVec
	StepFailures      *prometheus.CounterVec

	// Registry metrics
	PatternsRegistered prometheus.Gauge
	PatternsMined      prometheus.Counter

	// Adaptation metrics
	Adaptations *prometheus.CounterVec

	// Learning metrics
	OutcomesRecorded *prometheus.CounterVec
	OutcomesDropped  prometheus.Counter

	// System metrics
	CacheHits           prometheus.Counter
	CacheMisses         prometheus.Counter
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// New creates and registers all Prometheus metrics
func New() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			Predictions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tapestry_predictions_total",
					Help: "Total number of predictions by outcome",
				},
				[]string{"outcome", "category"},
			),
			PredictionLatency: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "tapestry_prediction_duration_seconds",
					Help:    "Prediction latency in seconds",
					Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
				},
			),
			Executions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tapestry_executions_total",
					Help: "Total number of pattern executions by result",
				},
				[]string{"pattern", "state"},
			),
			ExecutionDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tapestry_execution_duration_seconds",
					Help:    "Pattern execution duration in seconds",
					Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to 3.4min
				},
				[]string{"pattern"},
			),
			StepsExecuted: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tapestry_steps_executed_total",
					Help: "Total number of steps executed",
				},
				[]string{"tool"},
			),
			StepFailures: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tapestry_step_failures_total",
					Help: "Total number of step failures by kind",
				},
				[]string{"tool", "kind"},
			),
			PatternsRegistered: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "tapestry_patterns_registered",
					Help: "Number of patterns currently registered",
				},
			),
			PatternsMined: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "tapestry_patterns_mined_total",
					Help: "Total number of patterns created by mining",
				},
			),
			Adaptations: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tapestry_adaptations_total",
					Help: "Total number of tier adaptations",
				},
				[]string{"tier"},
			),
			OutcomesRecorded: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tapestry_outcomes_recorded_total",
					Help: "Total number of learning outcomes recorded",
				},
				[]string{"success"},
			),
			OutcomesDropped: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "tapestry_outcomes_dropped_total",
					Help: "Learning outcomes dropped because the buffer was full",
				},
			),
			CacheHits: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "tapestry_cache_hits_total",
					Help: "Total number of cache hits",
				},
			),
			CacheMisses: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "tapestry_cache_misses_total",
					Help: "Total number of cache misses",
				},
			),
			HTTPRequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tapestry_http_requests_total",
					Help: "Total number of HTTP requests",
				},
				[]string{"method", "path", "status"},
			),
			HTTPRequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tapestry_http_request_duration_seconds",
					Help:    "HTTP request duration in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"method", "path"},
			),
		}
	})

	return sharedMetrics
}

// RecordPrediction records one served prediction
func (m *Metrics) RecordPrediction(outcome, category string, durationSeconds float64) {
	m.Predictions.WithLabelValues(outcome, category).Inc()
	m.PredictionLatency.Observe(durationSeconds)
}

// RecordExecution records a finished execution
func (m *Metrics) RecordExecution(patternName, state string, durationSeconds float64) {
	m.Executions.WithLabelValues(patternName, state).Inc()
	m.ExecutionDuration.WithLabelValues(patternName).Observe(durationSeconds)
}

// RecordStepFailure records a failed step by error kind
func (m *Metrics) RecordStepFailure(tool, kind string) {
	m.StepFailures.WithLabelValues(tool, kind).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration float64) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}
