package health

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var chatHealthGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "warden_chat_health",
	Help: "Number of managed chats per bot health status, as of the last sweep",
}, []string{"status"})
