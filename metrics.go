package mrp

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	runs            *prometheus.CounterVec
	mapTasks        *prometheus.CounterVec
	mapTaskDuration *prometheus.HistogramVec
	storeWrites     *prometheus.CounterVec
}

// newMetrics registers the driver's collectors with reg. A nil reg yields
// working but unregistered collectors.
func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mrp",
			Name:      "runs_total",
			Help:      "Total number of executed runs by backend and outcome.",
		}, []string{"backend", "status"}),
		mapTasks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mrp",
			Name:      "map_tasks_total",
			Help:      "Total number of map task invocations by backend and outcome.",
		}, []string{"backend", "status"}),
		mapTaskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mrp",
			Name:      "map_task_duration_seconds",
			Help:      "Time spent in a single map task invocation.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"backend"}),
		storeWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mrp",
			Name:      "artifact_puts_total",
			Help:      "Artifact store puts by document kind and whether a blob was written.",
		}, []string{"kind", "result"}),
	}
}

func status(err error) string {
	if err != nil {
		return "failed"
	}
	return "ok"
}

func (m *metrics) observeMapTask(backend string, start time.Time, err error) {
	m.mapTasks.WithLabelValues(backend, status(err)).Inc()
	m.mapTaskDuration.WithLabelValues(backend).Observe(time.Since(start).Seconds())
}

func (m *metrics) observePut(kind string, written bool) {
	result := "exists"
	if written {
		result = "written"
	}
	m.storeWrites.WithLabelValues(kind, result).Inc()
}
