package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts dispatched tasks by outcome and observes their durations.
type Metrics struct {
	tasks    *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewMetrics registers the dispatcher metrics with reg. A nil reg creates
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		tasks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "statloom_tasks_total",
			Help: "Computation tasks dispatched, by outcome.",
		}, []string{"outcome"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "statloom_task_duration_seconds",
			Help:    "Wall time of computation tasks.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}
}

func (m *Metrics) observe(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(outcome).Inc()
	m.duration.Observe(seconds)
}
