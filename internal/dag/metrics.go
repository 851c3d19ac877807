package dag

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type dagMetrics struct {
	tasks        *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	executing    prometheus.Gauge
	runs         *prometheus.CounterVec
}

var metrics dagMetrics

func init() {
	f := promauto.With(prometheus.DefaultRegisterer)
	metrics = dagMetrics{
		tasks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cohortweaver",
			Subsystem: "dag",
			Name:      "tasks_total",
			Help:      `The number of tasks that reached a terminal state, by node kind and state.`,
		}, []string{"kind", "state"}),
		taskDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cohortweaver",
			Subsystem: "dag",
			Name:      "task_duration_seconds",
			Help:      `Time tasks spent executing, by node kind. Cache hits are not observed.`,
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 12),
		}, []string{"kind"}),
		executing: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "cohortweaver",
			Subsystem: "dag",
			Name:      "executing_tasks",
			Help:      `The number of tasks currently holding an execution slot.`,
		}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cohortweaver",
			Subsystem: "dag",
			Name:      "runs_total",
			Help:      `The number of completed runs, by status.`,
		}, []string{"status"}),
	}
}
