package jobsched

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	lg "github.com/Andrej220/go-utils/zlog"
)

// meterName is the instrumentation scope name for scheduler metrics.
const meterName = "github.com/azargarov/jobsched"

// OTelMetrics records scheduling events through an OpenTelemetry meter.
// If no MeterProvider is configured the global noop instruments make it a
// pass-through.
//
// Instruments:
//   - jobsched.job.submitted (Int64Counter) with attribute priority
//   - jobsched.job.executed, jobsched.job.inline (Int64Counter)
//   - jobsched.delayed.submitted, jobsched.delayed.promoted (Int64Counter)
//   - jobsched.worker.failures (Int64Counter)
type OTelMetrics struct {
	submitted metric.Int64Counter
	executed  metric.Int64Counter
	inline    metric.Int64Counter
	delayed   metric.Int64Counter
	promoted  metric.Int64Counter
	failures  metric.Int64Counter

	prioAttrs [PriorityCount]metric.AddOption
}

// NewOTelMetrics uses the global MeterProvider.
func NewOTelMetrics() *OTelMetrics {
	return NewOTelMetricsWithMeter(otel.Meter(meterName))
}

// NewOTelMetricsWithMeter creates the instruments on meter. An instrument
// the meter refuses is logged and replaced by a noop one, so construction
// never fails.
func NewOTelMetricsWithMeter(meter metric.Meter) *OTelMetrics {
	m := &OTelMetrics{
		submitted: int64Counter(meter, "jobsched.job.submitted", "Jobs accepted by a priority queue", "{job}"),
		executed:  int64Counter(meter, "jobsched.job.executed", "Jobs executed", "{job}"),
		inline:    int64Counter(meter, "jobsched.job.inline", "Jobs executed by their submitter", "{job}"),
		delayed:   int64Counter(meter, "jobsched.delayed.submitted", "Delayed jobs submitted", "{job}"),
		promoted:  int64Counter(meter, "jobsched.delayed.promoted", "Delayed jobs promoted to their queue", "{job}"),
		failures:  int64Counter(meter, "jobsched.worker.failures", "Workers lost to job panics", "{worker}"),
	}

	for p := Low; p <= Critical; p++ {
		m.prioAttrs[p] = metric.WithAttributes(attribute.String("priority", p.String()))
	}
	return m
}

func (m *OTelMetrics) IncSubmitted(p Priority) {
	if p.Valid() {
		m.submitted.Add(context.Background(), 1, m.prioAttrs[p])
	}
}

func (m *OTelMetrics) IncExecuted()      { m.executed.Add(context.Background(), 1) }
func (m *OTelMetrics) IncInline()        { m.inline.Add(context.Background(), 1) }
func (m *OTelMetrics) IncDelayed()       { m.delayed.Add(context.Background(), 1) }
func (m *OTelMetrics) IncPromoted()      { m.promoted.Add(context.Background(), 1) }
func (m *OTelMetrics) IncWorkerFailure() { m.failures.Add(context.Background(), 1) }

func int64Counter(meter metric.Meter, name, desc, unit string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	if err != nil || c == nil {
		lg.FromContext(context.Background()).Warn("otel instrument unavailable, using noop",
			lg.String("instrument", name),
			lg.Any("error", err),
		)
		return noop.Int64Counter{}
	}
	return c
}
