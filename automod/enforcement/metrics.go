package enforcement

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var enforcementCalls = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_enforcement_calls",
	Help: "Number of per-chat platform enforcement calls, by action and result",
}, []string{"action", "result"})

var enforcementSkips = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_enforcement_skips",
	Help: "Number of enforcements (admin) or chats (health) skipped",
}, []string{"reason"})

var cleanupJobs = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_cleanup_jobs",
	Help: "Cross-chat cleanup job scheduling outcomes",
}, []string{"result"})
