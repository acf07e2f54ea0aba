package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var notificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_notifications_sent",
	Help: "Number of notifications attempted, by audience, delivery method and success",
}, []string{"audience", "method", "success"})
