package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var actionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_moderation_actions",
	Help: "Number of moderation verbs executed, by verb and result",
}, []string{"verb", "result"})

var backgroundFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_background_failures",
	Help: "Number of best-effort background side effects which failed",
}, []string{"task"})
