package config

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var configLoadFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_config_load_failures",
	Help: "Number of times a chat config layer could not be loaded and defaults were used",
})
