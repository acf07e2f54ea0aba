package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var messageProcessDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "warden_message_duration_sec",
	Help: "Total duration of message pipeline processing",
}, []string{"outcome"})

var messageProcessCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_messages_processed",
	Help: "Number of messages processed, by outcome",
}, []string{"outcome"})

var messageErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_message_errors",
	Help: "Number of messages which failed processing",
}, []string{"outcome"})
