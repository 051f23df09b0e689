package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// BusinessMetrics records domain operation metrics: PHI field accesses,
// rotation runs and their row throughput, and audit pipeline health.
type BusinessMetrics interface {
	// RecordOperation records a domain operation with its status.
	// Domain examples: "phi", "rotation", "audit", "backup"
	// Operation examples: "encrypt_field", "rotate_phi_key", "record_event"
	// Status examples: "success", "error"
	RecordOperation(ctx context.Context, domain, operation, status string)

	// RecordDuration records the duration of a domain operation.
	RecordDuration(ctx context.Context, domain, operation string, duration time.Duration, status string)

	// RecordRotatedRows adds to the count of rows re-encrypted during key
	// rotation, labeled by table.
	RecordRotatedRows(ctx context.Context, table string, count int64)
}

type businessMetrics struct {
	operationCounter metric.Int64Counter
	durationHisto    metric.Float64Histogram
	rotatedRows      metric.Int64Counter
}

// NewBusinessMetrics creates a BusinessMetrics implementation using the
// provided meter provider. The namespace prefixes every metric name.
func NewBusinessMetrics(meterProvider metric.MeterProvider, namespace string) (BusinessMetrics, error) {
	meter := meterProvider.Meter(namespace)

	operationCounter, err := meter.Int64Counter(
		fmt.Sprintf("%s_operations_total", namespace),
		metric.WithDescription("Total number of domain operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create operation counter: %w", err)
	}

	durationHisto, err := meter.Float64Histogram(
		fmt.Sprintf("%s_operation_duration_seconds", namespace),
		metric.WithDescription("Duration of domain operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	rotatedRows, err := meter.Int64Counter(
		fmt.Sprintf("%s_rotation_rows_total", namespace),
		metric.WithDescription("Rows re-encrypted during key rotation"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rotation rows counter: %w", err)
	}

	return &businessMetrics{
		operationCounter: operationCounter,
		durationHisto:    durationHisto,
		rotatedRows:      rotatedRows,
	}, nil
}

// RecordOperation increments the operation counter with domain, operation, and status labels.
func (b *businessMetrics) RecordOperation(ctx context.Context, domain, operation, status string) {
	b.operationCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("domain", domain),
			attribute.String("operation", operation),
			attribute.String("status", status),
		),
	)
}

// RecordDuration records the operation duration in seconds.
func (b *businessMetrics) RecordDuration(
	ctx context.Context,
	domain, operation string,
	duration time.Duration,
	status string,
) {
	b.durationHisto.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("domain", domain),
			attribute.String("operation", operation),
			attribute.String("status", status),
		),
	)
}

// RecordRotatedRows adds re-encrypted rows to the rotation counter.
func (b *businessMetrics) RecordRotatedRows(ctx context.Context, table string, count int64) {
	b.rotatedRows.Add(ctx, count,
		metric.WithAttributes(
			attribute.String("table", table),
		),
	)
}

// NoOpBusinessMetrics is a no-op implementation for when metrics are disabled.
type NoOpBusinessMetrics struct{}

// NewNoOpBusinessMetrics creates a no-op BusinessMetrics implementation.
func NewNoOpBusinessMetrics() BusinessMetrics {
	return &NoOpBusinessMetrics{}
}

// RecordOperation does nothing when metrics are disabled.
func (n *NoOpBusinessMetrics) RecordOperation(ctx context.Context, domain, operation, status string) {
	// No-op
}

// RecordDuration does nothing when metrics are disabled.
func (n *NoOpBusinessMetrics) RecordDuration(
	ctx context.Context,
	domain, operation string,
	duration time.Duration,
	status string,
) {
	// No-op
}

// RecordRotatedRows does nothing when metrics are disabled.
func (n *NoOpBusinessMetrics) RecordRotatedRows(ctx context.Context, table string, count int64) {
	// No-op
}
