package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var updatesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_updates_received",
	Help: "Number of platform updates received, by type",
}, []string{"type"})

var membershipChanges = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_bot_membership_changes",
	Help: "Number of times the bot was added to or removed from a chat",
}, []string{"change"})

var apiActions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_api_actions",
	Help: "Number of moderation actions requested through the admin API",
}, []string{"verb", "success"})
