package connection

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeConnectionsMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "number_of_active_connections",
		Help: "The number of live websocket connections owned by this server",
	})
	issuedTokensMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "number_of_issued_connection_tokens",
		Help: "The total number of issued connection tokens",
	})
	rejectedUpgradesMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "number_of_rejected_upgrades",
		Help: "The total number of websocket upgrades rejected during token verification",
	})
	badRequestMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "number_of_bad_requests",
		Help: "The total number of bad requests",
	})
	deliveredMessagesMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "number_of_delivered_messages",
		Help: "The total number of outbound messages handed to sockets",
	})
	droppedFramesMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "number_of_dropped_frames",
		Help: "The total number of inbound frames dropped by the dispatcher",
	})
	missedHeartbeatsMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "number_of_missed_heartbeats",
		Help: "The total number of heartbeat ticks that saw no pong since the previous tick",
	})
)
