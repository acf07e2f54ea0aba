package gate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var gateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_gate_decisions",
	Help: "Number of messages per check gate outcome",
}, []string{"outcome"})
