// Package telemetry records export counters through OpenTelemetry.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "json-s3-export"

// Metrics holds the export instruments. A nil *Metrics records nothing.
type Metrics struct {
	batches       metric.Int64Counter
	rows          metric.Int64Counter
	bytes         metric.Int64Counter
	chainsFailed  metric.Int64Counter
	batchDuration metric.Float64Histogram
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error

	m.batches, err = meter.Int64Counter(
		"export.batches",
		metric.WithDescription("Batches uploaded"),
		metric.WithUnit("{batch}"),
	)
	if err != nil {
		return nil, err
	}

	m.rows, err = meter.Int64Counter(
		"export.rows",
		metric.WithDescription("Rows written to artifacts"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		return nil, err
	}

	m.bytes, err = meter.Int64Counter(
		"export.bytes",
		metric.WithDescription("Compressed bytes uploaded"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	m.chainsFailed, err = meter.Int64Counter(
		"export.chains.failed",
		metric.WithDescription("Export chains that ended in failure"),
		metric.WithUnit("{chain}"),
	)
	if err != nil {
		return nil, err
	}

	m.batchDuration, err = meter.Float64Histogram(
		"export.batch.duration",
		metric.WithDescription("Time to read, serialize and upload one batch"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordBatch records one completed batch. Empty batches count toward
// duration only.
func (m *Metrics) RecordBatch(ctx context.Context, table string, rows int, bytes int64, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("table", table))

	m.batchDuration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
	if rows == 0 {
		return
	}
	m.batches.Add(ctx, 1, attrs)
	m.rows.Add(ctx, int64(rows), attrs)
	m.bytes.Add(ctx, bytes, attrs)
}

func (m *Metrics) RecordChainFailure(ctx context.Context, table string, structural bool) {
	if m == nil {
		return
	}
	kind := "transient"
	if structural {
		kind = "structural"
	}
	m.chainsFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("table", table),
		attribute.String("kind", kind),
	))
}

// Setup owns the meter provider.
type Setup struct {
	provider *sdkmetric.MeterProvider
	metrics  *Metrics
}

// NewSetup installs a meter provider that prints to stdout every interval.
// When stdout export is disabled it returns a setup with nil Metrics.
func NewSetup(ctx context.Context, stdout bool, interval time.Duration) (*Setup, error) {
	if !stdout {
		return &Setup{}, nil
	}

	exporter, err := stdoutmetric.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	metrics, err := NewMetrics(provider.Meter(meterName))
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create export metrics: %w", err)
	}

	return &Setup{provider: provider, metrics: metrics}, nil
}

func (s *Setup) Metrics() *Metrics {
	return s.metrics
}

// Shutdown flushes pending metrics.
func (s *Setup) Shutdown(ctx context.Context) error {
	if s.provider == nil {
		return nil
	}
	return s.provider.Shutdown(ctx)
}
