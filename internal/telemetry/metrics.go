package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// SyncMetricsMeterName is the name used for the sync metrics meter
	SyncMetricsMeterName = "github.com/circlib/circulation-server/sync"

	// CirculationMetricsMeterName is the name used for the circulation
	// metrics meter
	CirculationMetricsMeterName = "github.com/circlib/circulation-server/circulation"

	// CoverageMetricsMeterName is the name used for the coverage metrics meter
	CoverageMetricsMeterName = "github.com/circlib/circulation-server/coverage"
)

// SyncMetrics holds the OpenTelemetry instruments for sync run metrics
type SyncMetrics struct {
	itemsApplied metric.Int64Counter
	itemsFailed  metric.Int64Counter
	syncDuration metric.Float64Histogram
}

// NewSyncMetrics creates a new SyncMetrics instance with the given meter
// provider. If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	itemsApplied, err := meter.Int64Counter(
		"circ_srv_sync_items_applied_total",
		metric.WithDescription("Number of change items applied during sync runs"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, err
	}

	itemsFailed, err := meter.Int64Counter(
		"circ_srv_sync_items_failed_total",
		metric.WithDescription("Number of change items that failed during sync runs"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, err
	}

	syncDuration, err := meter.Float64Histogram(
		"circ_srv_sync_duration_seconds",
		metric.WithDescription("Duration of sync runs in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		itemsApplied: itemsApplied,
		itemsFailed:  itemsFailed,
		syncDuration: syncDuration,
	}, nil
}

// RecordItems records the applied and failed item counts of one sync run
func (m *SyncMetrics) RecordItems(ctx context.Context, collection string, applied, failed int) {
	if m == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("collection", collection),
	}

	m.itemsApplied.Add(ctx, int64(applied), metric.WithAttributes(attrs...))
	m.itemsFailed.Add(ctx, int64(failed), metric.WithAttributes(attrs...))
}

// RecordSyncDuration records the duration of a sync run for a collection
func (m *SyncMetrics) RecordSyncDuration(ctx context.Context, collection string, duration time.Duration, success bool) {
	if m == nil || m.syncDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("collection", collection),
		attribute.Bool("success", success),
	}

	m.syncDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// CirculationMetrics holds the OpenTelemetry instruments for loan and hold
// lifecycle metrics
type CirculationMetrics struct {
	loansExpired  metric.Int64Counter
	holdsCanceled metric.Int64Counter
}

// NewCirculationMetrics creates a new CirculationMetrics instance with the
// given meter provider. If provider is nil, it returns nil (no-op metrics).
func NewCirculationMetrics(provider metric.MeterProvider) (*CirculationMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(CirculationMetricsMeterName)

	loansExpired, err := meter.Int64Counter(
		"circ_srv_loans_expired_total",
		metric.WithDescription("Number of loans reclaimed by the expiration sweep"),
		metric.WithUnit("{loan}"),
	)
	if err != nil {
		return nil, err
	}

	holdsCanceled, err := meter.Int64Counter(
		"circ_srv_holds_canceled_total",
		metric.WithDescription("Number of lapsed reservations canceled by the expiration sweep"),
		metric.WithUnit("{hold}"),
	)
	if err != nil {
		return nil, err
	}

	return &CirculationMetrics{
		loansExpired:  loansExpired,
		holdsCanceled: holdsCanceled,
	}, nil
}

// RecordReap records the outcome of one expiration sweep
func (m *CirculationMetrics) RecordReap(ctx context.Context, collection string, loansExpired, holdsCanceled int) {
	if m == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("collection", collection),
	}

	m.loansExpired.Add(ctx, int64(loansExpired), metric.WithAttributes(attrs...))
	m.holdsCanceled.Add(ctx, int64(holdsCanceled), metric.WithAttributes(attrs...))
}

// CoverageMetrics holds the OpenTelemetry instruments for coverage provider
// metrics
type CoverageMetrics struct {
	recordsCovered metric.Int64Counter
	recordsFailed  metric.Int64Counter
}

// NewCoverageMetrics creates a new CoverageMetrics instance with the given
// meter provider. If provider is nil, it returns nil (no-op metrics).
func NewCoverageMetrics(provider metric.MeterProvider) (*CoverageMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(CoverageMetricsMeterName)

	recordsCovered, err := meter.Int64Counter(
		"circ_srv_coverage_records_covered_total",
		metric.WithDescription("Number of coverage records that reached success"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	recordsFailed, err := meter.Int64Counter(
		"circ_srv_coverage_records_failed_total",
		metric.WithDescription("Number of coverage attempts that failed"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	return &CoverageMetrics{
		recordsCovered: recordsCovered,
		recordsFailed:  recordsFailed,
	}, nil
}

// RecordRun records the outcome of one coverage provider run
func (m *CoverageMetrics) RecordRun(ctx context.Context, coverageType string, covered, failed int) {
	if m == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("coverage_type", coverageType),
	}

	m.recordsCovered.Add(ctx, int64(covered), metric.WithAttributes(attrs...))
	m.recordsFailed.Add(ctx, int64(failed), metric.WithAttributes(attrs...))
}
