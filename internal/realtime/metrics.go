package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Realtime-tier metrics, exposed via the app's /metrics endpoint.
var (
	openConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "wren",
		Subsystem: "ws",
		Name:      "open_connections",
		Help:      "Currently open websocket connections.",
	})

	inboundEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wren",
		Subsystem: "ws",
		Name:      "inbound_events_total",
		Help:      "Inbound client events by envelope type.",
	}, []string{"type"})

	broadcastDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wren",
		Subsystem: "ws",
		Name:      "broadcast_delivered_total",
		Help:      "Envelopes enqueued to room members by type.",
	}, []string{"type"})

	broadcastDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wren",
		Subsystem: "ws",
		Name:      "broadcast_dropped_total",
		Help:      "Envelopes dropped during room fan-out (dead or saturated member queues).",
	}, []string{"type"})

	presenceDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "wren",
		Subsystem: "presence",
		Name:      "status_dropped_total",
		Help:      "Status edges dropped during global presence fan-out.",
	})
)
