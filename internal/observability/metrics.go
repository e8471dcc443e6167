package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "thingmapper"

// PipelineMetrics holds the instruments recorded by mutation pipeline runs.
type PipelineMetrics struct {
	mutationDuration metric.Float64Histogram
	mutationCounter  metric.Int64Counter
	failureCounter   metric.Int64Counter
	activeMutations  metric.Int64UpDownCounter
	stageDuration    metric.Float64Histogram
	preQueryRounds   metric.Int64Counter
	thingsCount      metric.Int64Histogram
	edgesCount       metric.Int64Histogram
}

// InitPipelineMetrics creates the pipeline instruments on the global meter
// provider.
func InitPipelineMetrics() (*PipelineMetrics, error) {
	return NewPipelineMetrics(otel.Meter(meterName))
}

// NewPipelineMetrics creates the pipeline instruments on meter.
func NewPipelineMetrics(meter metric.Meter) (*PipelineMetrics, error) {
	var (
		m   PipelineMetrics
		err error
	)
	if m.mutationDuration, err = meter.Float64Histogram(
		"mutation.duration",
		metric.WithDescription("Duration of mutation pipeline runs in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create mutation duration histogram: %w", err)
	}
	if m.mutationCounter, err = meter.Int64Counter(
		"mutation.total",
		metric.WithDescription("Total number of mutation pipeline runs"),
	); err != nil {
		return nil, fmt.Errorf("failed to create mutation counter: %w", err)
	}
	if m.failureCounter, err = meter.Int64Counter(
		"mutation.failures.total",
		metric.WithDescription("Failed mutation pipeline runs by error kind"),
	); err != nil {
		return nil, fmt.Errorf("failed to create failure counter: %w", err)
	}
	if m.activeMutations, err = meter.Int64UpDownCounter(
		"mutation.active",
		metric.WithDescription("Number of mutation pipeline runs in progress"),
	); err != nil {
		return nil, fmt.Errorf("failed to create active mutations counter: %w", err)
	}
	if m.stageDuration, err = meter.Float64Histogram(
		"mutation.stage.duration",
		metric.WithDescription("Duration of single pipeline stages in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create stage duration histogram: %w", err)
	}
	if m.preQueryRounds, err = meter.Int64Counter(
		"mutation.prequery.total",
		metric.WithDescription("Pre-query stages run against a backend"),
	); err != nil {
		return nil, fmt.Errorf("failed to create pre-query counter: %w", err)
	}
	if m.thingsCount, err = meter.Int64Histogram(
		"mutation.things",
		metric.WithDescription("Thing operations per dispatched mutation"),
	); err != nil {
		return nil, fmt.Errorf("failed to create things histogram: %w", err)
	}
	if m.edgesCount, err = meter.Int64Histogram(
		"mutation.edges",
		metric.WithDescription("Edge operations per dispatched mutation"),
	); err != nil {
		return nil, fmt.Errorf("failed to create edges histogram: %w", err)
	}
	return &m, nil
}

// RecordMutation records a finished run. errorKind is empty on success.
func (m *PipelineMetrics) RecordMutation(ctx context.Context, duration time.Duration, provider, errorKind string) {
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.Bool("has_errors", errorKind != ""),
	)
	m.mutationDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	m.mutationCounter.Add(ctx, 1, attrs)
	if errorKind != "" {
		m.failureCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("error_kind", errorKind),
		))
	}
}

// RecordStage records one stage of a run.
func (m *PipelineMetrics) RecordStage(ctx context.Context, stage string, duration time.Duration) {
	m.stageDuration.Record(ctx, float64(duration.Microseconds())/1000, metric.WithAttributes(
		attribute.String("stage", stage),
	))
	if stage == "preQuery" {
		m.preQueryRounds.Add(ctx, 1)
	}
}

// RecordGraph records the size of a partitioned mutation.
func (m *PipelineMetrics) RecordGraph(ctx context.Context, provider string, things, edges int) {
	attrs := metric.WithAttributes(attribute.String("provider", provider))
	m.thingsCount.Record(ctx, int64(things), attrs)
	m.edgesCount.Record(ctx, int64(edges), attrs)
}

func (m *PipelineMetrics) IncrementActive(ctx context.Context) {
	m.activeMutations.Add(ctx, 1)
}

func (m *PipelineMetrics) DecrementActive(ctx context.Context) {
	m.activeMutations.Add(ctx, -1)
}
