package task

import "github.com/zeromicro/go-zero/core/metric"

var (
	taskDuration = metric.NewHistogramVec(&metric.HistogramVecOpts{
		Namespace: "mailforge",
		Subsystem: "task",
		Name:      "duration_ms",
		Help:      "Task duration in milliseconds",
		Labels:    []string{"task"},
		Buckets:   []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	})

	taskFailures = metric.NewCounterVec(&metric.CounterVecOpts{
		Namespace: "mailforge",
		Subsystem: "task",
		Name:      "failures_total",
		Help:      "Tasks that returned an error",
		Labels:    []string{"task"},
	})
)
