package jobsched

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PromMetrics exports scheduling events as Prometheus counters.
type PromMetrics struct {
	submitted      *prometheus.CounterVec
	submittedByPri [PriorityCount]prometheus.Counter
	executed       prometheus.Counter
	inline         prometheus.Counter
	delayed        prometheus.Counter
	promoted       prometheus.Counter
	failures       prometheus.Counter
}

// NewPromMetrics registers the scheduler collectors on reg. A nil reg
// uses prometheus.DefaultRegisterer.
func NewPromMetrics(reg prometheus.Registerer, poolName string) *PromMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	labels := prometheus.Labels{"pool": poolName}

	m := &PromMetrics{
		submitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   "jobsched",
				Subsystem:   "queue",
				Name:        "submitted_total",
				Help:        "Total number of jobs accepted by a priority queue",
				ConstLabels: labels,
			},
			[]string{"priority"},
		),
		executed: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "jobsched",
			Subsystem:   "pool",
			Name:        "jobs_executed_total",
			Help:        "Total number of jobs executed",
			ConstLabels: labels,
		}),
		inline: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "jobsched",
			Subsystem:   "pool",
			Name:        "jobs_inline_total",
			Help:        "Jobs executed by their submitter because the queue was full",
			ConstLabels: labels,
		}),
		delayed: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "jobsched",
			Subsystem:   "delayed",
			Name:        "submitted_total",
			Help:        "Total number of delayed jobs submitted",
			ConstLabels: labels,
		}),
		promoted: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "jobsched",
			Subsystem:   "delayed",
			Name:        "promoted_total",
			Help:        "Delayed jobs whose readiness predicate became true",
			ConstLabels: labels,
		}),
		failures: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "jobsched",
			Subsystem:   "pool",
			Name:        "worker_failures_total",
			Help:        "Workers that exited because a job panicked",
			ConstLabels: labels,
		}),
	}
	for p := Low; p <= Critical; p++ {
		m.submittedByPri[p] = m.submitted.WithLabelValues(p.String())
	}
	return m
}

func (m *PromMetrics) IncSubmitted(p Priority) {
	if p.Valid() {
		m.submittedByPri[p].Inc()
	}
}

func (m *PromMetrics) IncExecuted()      { m.executed.Inc() }
func (m *PromMetrics) IncInline()        { m.inline.Inc() }
func (m *PromMetrics) IncDelayed()       { m.delayed.Inc() }
func (m *PromMetrics) IncPromoted()      { m.promoted.Inc() }
func (m *PromMetrics) IncWorkerFailure() { m.failures.Inc() }
