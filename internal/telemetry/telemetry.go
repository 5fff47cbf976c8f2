// Package telemetry wires a minimal otel metrics pipeline: stage durations
// and queue depth, exported to stdout in the absence of a collector
// (spec.md domain stack — no Prometheus/collector assumed for this
// deployment size).
package telemetry

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "videorag"

// Metrics holds the instruments the worker and pipeline stages record
// against.
type Metrics struct {
	provider      *sdkmetric.MeterProvider
	StageDuration metric.Float64Histogram
	TasksTotal    metric.Int64Counter
}

// New builds a MeterProvider with a periodic stdout exporter (interval is
// intentionally coarse: this is a development/ops-visibility aid, not a
// scrape target) and the instruments videorag records against.
func New(ctx context.Context, exportInterval time.Duration) (*Metrics, error) {
	exporter, err := stdoutmetric.New(stdoutmetric.WithoutTimestamps())
	if err != nil {
		return nil, err
	}
	if exportInterval <= 0 {
		exportInterval = time.Minute
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(exportInterval))),
	)
	meter := provider.Meter(meterName)

	stageDuration, err := meter.Float64Histogram(
		"pipeline.stage.duration",
		metric.WithDescription("duration of a single pipeline stage run, in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	tasksTotal, err := meter.Int64Counter(
		"pipeline.tasks.total",
		metric.WithDescription("tasks dispatched by the worker, labeled by task_type and outcome"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{provider: provider, StageDuration: stageDuration, TasksTotal: tasksTotal}, nil
}

// QueueDepthFunc reports the number of tasks currently queued; registered as
// an async gauge callback so the cost of computing it (a DB query) is only
// paid once per export interval rather than per task.
type QueueDepthFunc func(ctx context.Context) (int64, error)

// ObserveQueueDepth registers an async gauge that calls depth once per
// collection cycle.
func (m *Metrics) ObserveQueueDepth(depth QueueDepthFunc) error {
	meter := m.provider.Meter(meterName)
	gauge, err := meter.Int64ObservableGauge(
		"pipeline.queue.depth",
		metric.WithDescription("tasks currently in queued status"),
	)
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		n, err := depth(ctx)
		if err != nil {
			return err
		}
		o.ObserveInt64(gauge, n)
		return nil
	}, gauge)
	return err
}

// StageTimer starts a timer for one stage run; call Stop with the stage name
// once the stage returns.
func (m *Metrics) StageTimer() func(stage string) {
	start := time.Now()
	return func(stage string) {
		m.StageDuration.Record(context.Background(), time.Since(start).Seconds(),
			metric.WithAttributes(stageAttr(stage)))
	}
}

func stageAttr(stage string) attribute.KeyValue {
	return attribute.String("stage", stage)
}

// Shutdown flushes any buffered metrics and stops the periodic exporter.
func (m *Metrics) Shutdown(ctx context.Context) {
	if err := m.provider.Shutdown(ctx); err != nil {
		log.Printf("[telemetry] shutdown error: %v", err)
	}
}
