package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_active_connections",
		Help: "Currently registered websocket connections.",
	})

	MessagesRouted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_messages_routed_total",
		Help: "Messages accepted and fanned out.",
	})

	StatusUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_status_updates_total",
		Help: "Delivery state transitions applied, by target status.",
	}, []string{"status"})

	TypingForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_typing_forwarded_total",
		Help: "Typing pulses forwarded to receivers.",
	})

	TypingDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_typing_dropped_total",
		Help: "Typing pulses dropped inside the debounce window.",
	})
)

// Handler returns an http.Handler for Prometheus scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
