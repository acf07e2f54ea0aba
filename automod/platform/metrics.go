package platform

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var platformCalls = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_platform_calls",
	Help: "Number of chat platform API calls, by method and result",
}, []string{"method", "result"})

var platformDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "warden_platform_duration_sec",
	Help:    "Duration of chat platform API calls",
	Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
}, []string{"method"})
