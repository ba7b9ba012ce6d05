package supervisor

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// MeterName is the instrumentation scope of run metrics.
const MeterName = "blockflow.supervisor"

// runMetrics holds the instruments a run records into. Instruments with the
// same name are shared by every run on a meter provider.
type runMetrics struct {
	runDuration    metric.Float64Histogram
	eventsEmitted  metric.Int64Counter
	eventsDropped  metric.Int64Counter
	terminations   metric.Int64Counter
	escalatedKills metric.Int64Counter
}

// newRunMetrics creates the run instruments on meter, or on the global meter
// provider when meter is nil.
func newRunMetrics(meter metric.Meter) (*runMetrics, error) {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(MeterName)
	}

	var (
		m   runMetrics
		err error
	)
	m.runDuration, err = meter.Float64Histogram(
		"blockflow_run_seconds",
		metric.WithDescription("Wall-clock duration of flow runs from start to resolution"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram blockflow_run_seconds: %w", err)
	}
	counters := []struct {
		target      *metric.Int64Counter
		name        string
		description string
	}{
		{&m.eventsEmitted, "blockflow_run_events_total", "Log events forwarded from flow runs"},
		{&m.eventsDropped, "blockflow_run_events_deduplicated_total", "Repeated log lines suppressed by per-run de-duplication"},
		{&m.terminations, "blockflow_run_terminations_total", "Termination sequences run against child processes"},
		{&m.escalatedKills, "blockflow_run_forced_kills_total", "Forceful kills issued after a process outlived a softer request"},
	}
	for _, c := range counters {
		*c.target, err = meter.Int64Counter(c.name, metric.WithDescription(c.description), metric.WithUnit("1"))
		if err != nil {
			return nil, fmt.Errorf("failed to create counter %s: %w", c.name, err)
		}
	}
	return &m, nil
}

// noopRunMetrics is used when the configured meter rejects the instruments.
func noopRunMetrics() *runMetrics {
	m, _ := newRunMetrics(noop.NewMeterProvider().Meter(MeterName))
	return m
}

func (m *runMetrics) runResolved(ctx context.Context, state State, duration time.Duration) {
	m.runDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("outcome", string(state))),
	)
}

func (m *runMetrics) event(ctx context.Context, t EventType, source Source) {
	m.eventsEmitted.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("type", string(t)),
			attribute.String("source", string(source)),
		),
	)
}

func (m *runMetrics) deduplicated(ctx context.Context) {
	m.eventsDropped.Add(ctx, 1)
}

func (m *runMetrics) termination(ctx context.Context, out terminationOutcome) {
	m.terminations.Add(ctx, 1,
		metric.WithAttributes(
			attribute.Bool("cooperative", !out.Forced),
			attribute.String("final_phase", out.last().String()),
		),
	)
	if out.Escalations > 0 {
		m.escalatedKills.Add(ctx, int64(out.Escalations))
	}
}
