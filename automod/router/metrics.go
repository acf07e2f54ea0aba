package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var routeDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_route_decisions",
	Help: "Number of detection results per routed action",
}, []string{"action"})
