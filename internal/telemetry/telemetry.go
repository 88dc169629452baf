// Package telemetry wires OpenTelemetry tracing and metrics for the engine
package telemetry

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

var (
	// Global tracer for the application
	Tracer trace.Tracer

	// Global meter for custom metrics
	Meter metric.Meter

	// Custom metrics
	PredictionsTotal    metric.Int64Counter
	ExecutionsStarted   metric.Int64Counter
	ExecutionsCompleted metric.Int64Counter
	ExecutionsFailed    metric.Int64Counter
	StepsExecuted       metric.Int64Counter
	PatternsAdapted     metric.Int64Counter
	OutcomesApplied     metric.Int64Counter
	PredictionLatency   metric.Float64Histogram
	StepLatency         metric.Float64Histogram
)

// The tracer, meter, and instruments are bound to the global providers at
// package load, so call sites work (as no-ops) even when Init never runs.
// Init swaps the real providers in underneath.
func init() {
	Tracer = otel.Tracer("tapestry")
	Meter = otel.Meter("tapestry")
	if err := initMetrics(); err != nil {
		log.Printf("[Telemetry] Failed to create instruments: %v", err)
	}
}

// Init initializes OpenTelemetry tracing and metrics
func Init(ctx context.Context, serviceName, otelEndpoint string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion("1.0.0"),
			attribute.String("environment", "development"),
		),
	)
	if err != nil {
		return nil, err
	}

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(otelEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	Tracer = otel.Tracer(serviceName)
	Meter = otel.Meter(serviceName)

	if err := initMetrics(); err != nil {
		return nil, err
	}

	log.Printf("[Telemetry] Initialized with endpoint %s", otelEndpoint)

	return func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return traceProvider.Shutdown(shutdownCtx)
	}, nil
}

// initMetrics creates all custom metrics
func initMetrics() error {
	var err error

	PredictionsTotal, err = Meter.Int64Counter(
		"tapestry.predictions.total",
		metric.WithDescription("Number of prediction requests served"),
	)
	if err != nil {
		return err
	}

	ExecutionsStarted, err = Meter.Int64Counter(
		"tapestry.executions.started",
		metric.WithDescription("Number of pattern executions started"),
	)
	if err != nil {
		return err
	}

	ExecutionsCompleted, err = Meter.Int64Counter(
		"tapestry.executions.completed",
		metric.WithDescription("Number of pattern executions completed"),
	)
	if err != nil {
		return err
	}

	ExecutionsFailed, err = Meter.Int64Counter(
		"tapestry.executions.failed",
		metric.WithDescription("Number of pattern executions failed"),
	)
	if err != nil {
		return err
	}

	StepsExecuted, err = Meter.Int64Counter(
		"tapestry.steps.executed",
		metric.WithDescription("Number of individual steps executed"),
	)
	if err != nil {
		return err
	}

	PatternsAdapted, err = Meter.Int64Counter(
		"tapestry.patterns.adapted",
		metric.WithDescription("Number of tier adaptations performed"),
	)
	if err != nil {
		return err
	}

	OutcomesApplied, err = Meter.Int64Counter(
		"tapestry.outcomes.applied",
		metric.WithDescription("Number of learning outcomes folded in"),
	)
	if err != nil {
		return err
	}

	PredictionLatency, err = Meter.Float64Histogram(
		"tapestry.prediction.latency",
		metric.WithDescription("Prediction latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	StepLatency, err = Meter.Float64Histogram(
		"tapestry.step.latency",
		metric.WithDescription("Step execution latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	return nil
}
