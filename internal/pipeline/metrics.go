package pipeline

import "github.com/zeromicro/go-zero/core/metric"

var watchTriggers = metric.NewCounterVec(&metric.CounterVecOpts{
	Namespace: "mailforge",
	Subsystem: "watch",
	Name:      "triggers_total",
	Help:      "Source changes that started a rebuild",
	Labels:    []string{"trigger"},
})
