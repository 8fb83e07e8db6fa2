package collector

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("services/collector")
var meter = otel.Meter("services/collector")

type cycleMetrics struct {
	cycles    metric.Int64Counter
	intervals metric.Int64Counter
}

func newCycleMetrics() (cycleMetrics, error) {
	cycles, err := meter.Int64Counter(
		"collector_cycles_total",
		metric.WithDescription("The total amount of collection cycles run, by status."),
	)
	if err != nil {
		return cycleMetrics{}, err
	}
	intervals, err := meter.Int64Counter(
		"collector_intervals_written_total",
		metric.WithDescription("The total amount of usage intervals written to the primary sink."),
	)
	if err != nil {
		return cycleMetrics{}, err
	}
	return cycleMetrics{cycles: cycles, intervals: intervals}, nil
}

func (m cycleMetrics) record(ctx context.Context, result Result) {
	m.cycles.Add(ctx, 1, metric.WithAttributes(
		attribute.KeyValue{
			Key:   "status",
			Value: attribute.StringValue(string(result.Status)),
		},
	))
	m.intervals.Add(ctx, int64(result.IntervalsWritten))
}
