package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/universe/internal/ir"
)

// Metrics holds the prometheus instruments of a universe.
type Metrics struct {
	runs     *prometheus.CounterVec
	duration prometheus.Histogram
	lockWait prometheus.Histogram
	steps    prometheus.Histogram
	facts    *prometheus.CounterVec
}

// NewMetrics creates the instruments and registers them with reg. A nil
// reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "universe",
			Name:      "kernel_runs_total",
			Help:      "Top-level kernel invocations by kernel and outcome.",
		}, []string{"kernel", "outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "universe",
			Name:      "kernel_duration_seconds",
			Help:      "Wall time of top-level invocations, propagation included.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "universe",
			Name:      "lock_wait_seconds",
			Help:      "Time spent blocked acquiring a column lock.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		steps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "universe",
			Name:      "propagation_steps",
			Help:      "Kernel steps per invocation, reactions included.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		facts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "universe",
			Name:      "facts_total",
			Help:      "Facts produced by kind.",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.runs, m.duration, m.lockWait, m.steps, m.facts)
	}
	return m
}

func (m *Metrics) observeRun(inv *invocation, outcome ir.Outcome, elapsed time.Duration) {
	label := outcome.Status
	if outcome.Code != "" {
		label = outcome.Code
	}
	m.runs.WithLabelValues(inv.kernel, label).Inc()
	m.duration.Observe(elapsed.Seconds())
	m.steps.Observe(float64(inv.steps))
}
