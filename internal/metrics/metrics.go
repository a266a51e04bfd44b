// Package metrics holds the Prometheus collectors of the chat backend.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Messages persisted by the conversation engine, by content kind.",
		},
		[]string{"kind"},
	)

	ReconcilerOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_reconciler_events_total",
			Help: "Realtime events applied to open threads, by outcome.",
		},
		[]string{"outcome"},
	)

	Uploads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_attachment_uploads_total",
			Help: "Attachment uploads, by kind and result.",
		},
		[]string{"kind", "result"},
	)

	TypingSignals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_typing_signals_total",
			Help: "Typing signals, by direction (published, received).",
		},
		[]string{"direction"},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_active_sessions",
			Help: "Websocket sessions currently connected.",
		},
	)
)

func init() {
	prometheus.MustRegister(MessagesSent)
	prometheus.MustRegister(ReconcilerOutcomes)
	prometheus.MustRegister(Uploads)
	prometheus.MustRegister(TypingSignals)
	prometheus.MustRegister(ActiveSessions)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
