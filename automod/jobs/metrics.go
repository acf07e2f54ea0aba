package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var jobsScheduled = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_jobs_scheduled",
	Help: "Number of background jobs scheduled",
}, []string{"job"})

var jobsRun = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_jobs_run",
	Help: "Number of background jobs run, by result",
}, []string{"job", "result"})
