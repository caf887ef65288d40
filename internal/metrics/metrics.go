// Package metrics provides Prometheus instrumentation for the Relay chat
// server. It exposes gauges for connection and presence counts, counters for
// message throughput and delivery outcomes, and a histogram for send latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// OnlineUsers tracks the current size of the online-user set.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_online_users",
		Help: "Current number of users with a registered live connection",
	})

	// MessagesTotal counts processed sends by outcome: "delivered" when the
	// receiver's connection took the push, "missed" when the receiver was
	// offline, "push_failed" when the push errored after persistence, and
	// "rejected" for validation or rate-limit refusals.
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_total",
		Help: "Total number of message sends processed",
	}, []string{"outcome"})

	// SendLatency records end-to-end send pipeline latency in seconds
	// (upload + persist + push).
	SendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_send_latency_seconds",
		Help:    "Message send pipeline latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// PresenceBroadcasts counts presence-update broadcasts to all connections.
	PresenceBroadcasts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_presence_broadcasts_total",
		Help: "Total number of presence-update broadcasts",
	})

	// FlaggedMessages counts messages flagged by the moderation worker,
	// labeled by reason.
	FlaggedMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_flagged_messages_total",
		Help: "Total number of messages flagged by moderation",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		OnlineUsers,
		MessagesTotal,
		SendLatency,
		PresenceBroadcasts,
		FlaggedMessages,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
