package obs

import (
	"context"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
)

// Metrics holds the per-task histogram/counter/gauge set the scheduler
// records against.
type Metrics struct {
	RunDuration      metric.Float64Histogram
	TasksStarted     metric.Int64Counter
	TasksDone        metric.Int64Counter
	TasksFailed      metric.Int64Counter
	TasksSkipped     metric.Int64Counter
	ParallelismGauge metric.Int64UpDownCounter
}

// InitMetrics sets up a global OTLP metrics exporter (push). Returns a shutdown func.
// On exporter failure it logs a warning and still returns usable (no-op-backed) instruments.
func InitMetrics(ctx context.Context, service string) (shutdown func(context.Context) error, m Metrics) {
	res, _ := sdkresource.Merge(sdkresource.Default(), sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
	))
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT")
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint == "" {
		endpoint = "localhost:4317"
	}
	ctxInit, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exp, err := otlpmetricgrpc.New(ctxInit,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithDialOption(grpc.WithInsecure()),
	)
	if err != nil {
		slog.Warn("metrics exporter init failed", "error", err)
		return func(context.Context) error { return nil }, newInstruments()
	}
	reader := sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(10*time.Second))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)
	slog.Info("metrics initialized", "endpoint", endpoint)
	return mp.Shutdown, newInstruments()
}

func newInstruments() Metrics {
	meter := otel.Meter(tracerName)
	runDuration, _ := meter.Float64Histogram("taskgraph_run_duration_ms")
	started, _ := meter.Int64Counter("taskgraph_tasks_started_total")
	done, _ := meter.Int64Counter("taskgraph_tasks_done_total")
	failed, _ := meter.Int64Counter("taskgraph_tasks_failed_total")
	skipped, _ := meter.Int64Counter("taskgraph_tasks_skipped_total")
	parallelism, _ := meter.Int64UpDownCounter("taskgraph_running_tasks")
	return Metrics{
		RunDuration:      runDuration,
		TasksStarted:     started,
		TasksDone:        done,
		TasksFailed:      failed,
		TasksSkipped:     skipped,
		ParallelismGauge: parallelism,
	}
}

// Noop returns an instrument set backed by the global (no-op by default) meter,
// useful for tests and for callers who never called InitMetrics.
func Noop() Metrics {
	return newInstruments()
}
