package mjml

import "github.com/zeromicro/go-zero/core/metric"

var (
	renderDuration = metric.NewHistogramVec(&metric.HistogramVecOpts{
		Namespace: "mailforge",
		Subsystem: "render",
		Name:      "duration_ms",
		Help:      "Page render duration in milliseconds",
		Labels:    []string{"page"},
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000},
	})

	renderErrors = metric.NewCounterVec(&metric.CounterVecOpts{
		Namespace: "mailforge",
		Subsystem: "render",
		Name:      "errors_total",
		Help:      "Pages that failed to render",
		Labels:    []string{"page"},
	})
)
