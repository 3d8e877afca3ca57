package executor

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "webrunner"

// Metrics holds the executor's Prometheus collectors.
type Metrics struct {
	submitted  *prometheus.CounterVec
	dispatched *prometheus.CounterVec
	retries    *prometheus.CounterVec
	results    *prometheus.CounterVec
	attempts   *prometheus.HistogramVec
	pending    prometheus.GaugeFunc
	active     prometheus.GaugeFunc
}

func newMetrics(e *Executor) *Metrics {
	return &Metrics{
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tasks_submitted_total",
			Help:      "Tasks accepted for execution.",
		}, []string{"type"}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "task_attempts_total",
			Help:      "Task attempts dispatched to an agent.",
		}, []string{"type"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "task_retries_total",
			Help:      "Failed attempts scheduled for retry.",
		}, []string{"type"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "task_results_total",
			Help:      "Terminal task results by status.",
		}, []string{"type", "status"}),
		attempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "task_attempt_duration_seconds",
			Help:      "Duration of individual task attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"type", "outcome"}),
		pending: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "tasks_pending",
			Help:      "Tasks queued or waiting out a retry backoff.",
		}, func() float64 { return float64(e.PendingCount()) }),
		active: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "tasks_active",
			Help:      "Tasks currently running on an agent.",
		}, func() float64 { return float64(e.ActiveCount()) }),
	}
}

func (m *Metrics) register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.submitted, m.dispatched, m.retries, m.results, m.attempts, m.pending, m.active,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
