// Package metrics exposes the relay's prometheus instrumentation. Collectors
// are registered on the default registry and served by promhttp on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsOpen tracks websocket connections currently open, joined or not.
	ConnectionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parley_connections_open",
		Help: "Open websocket connections.",
	})

	// SessionsActive tracks connections that completed a join.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parley_sessions_active",
		Help: "Registered chat sessions.",
	})

	// MessagesRelayed counts accepted send events.
	MessagesRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_messages_relayed_total",
		Help: "Messages accepted and appended to history.",
	})

	// RepliesGenerated counts oracle invocations by oracle kind and outcome.
	RepliesGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_replies_generated_total",
		Help: "Reply oracle invocations.",
	}, []string{"oracle", "outcome"})

	// EventsDropped counts outbound events dropped on full client buffers.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_events_dropped_total",
		Help: "Outbound events dropped because a client send buffer was full.",
	})
)
