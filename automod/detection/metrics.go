package detection

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var detectionRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_detection_requests",
	Help: "Number of detection service requests, by HTTP status",
}, []string{"status"})

var detectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name: "warden_detection_duration_sec",
	Help: "Duration of detection service requests",
})
