package worker

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsRecorder receives execution-plane events. The zero recorder used in
// tests drops everything.
type MetricsRecorder interface {
	RunFinished(status string)
	TaskFinished(outcome string)
	ModelCall(provider, outcome string)
	TaskDuration(seconds float64)
}

// NopMetrics discards all events.
type NopMetrics struct{}

func (NopMetrics) RunFinished(string)       {}
func (NopMetrics) TaskFinished(string)      {}
func (NopMetrics) ModelCall(string, string) {}
func (NopMetrics) TaskDuration(float64)     {}

// PrometheusMetrics implements MetricsRecorder on a prometheus registry.
type PrometheusMetrics struct {
	runs         *prometheus.CounterVec
	tasks        *prometheus.CounterVec
	modelCalls   *prometheus.CounterVec
	taskDuration prometheus.Histogram
}

// NewPrometheusMetrics registers the worker metrics on reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evalcore_runs_total",
			Help: "Eval runs finished, by terminal status.",
		}, []string{"status"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evalcore_tasks_total",
			Help: "Item x model tasks finished, by outcome.",
		}, []string{"outcome"}),
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evalcore_model_calls_total",
			Help: "Model invocations, by provider and outcome.",
		}, []string{"provider", "outcome"}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "evalcore_task_duration_seconds",
			Help:    "Wall time of one item x model task.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
	reg.MustRegister(m.runs, m.tasks, m.modelCalls, m.taskDuration)
	return m
}

func (m *PrometheusMetrics) RunFinished(status string) {
	m.runs.WithLabelValues(status).Inc()
}

func (m *PrometheusMetrics) TaskFinished(outcome string) {
	m.tasks.WithLabelValues(outcome).Inc()
}

func (m *PrometheusMetrics) ModelCall(provider, outcome string) {
	m.modelCalls.WithLabelValues(provider, outcome).Inc()
}

func (m *PrometheusMetrics) TaskDuration(seconds float64) {
	m.taskDuration.Observe(seconds)
}
