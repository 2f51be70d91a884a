package p2p

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusMessagesSent      *prometheus.CounterVec
	prometheusMessagesReceived  *prometheus.CounterVec
	prometheusBroadcastFailures prometheus.Counter
	prometheusPeers             prometheus.Gauge
	prometheusPeersBanned       prometheus.Counter
	prometheusPeerBlocks        *prometheus.CounterVec
)

var prometheusMetricsInitOnce sync.Once

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusMessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "popnode",
			Subsystem: "p2p",
			Name:      "messages_sent",
			Help:      "Number of messages delivered to peers",
		},
		[]string{"type"},
	)

	prometheusMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "popnode",
			Subsystem: "p2p",
			Name:      "messages_received",
			Help:      "Number of messages received from peers",
		},
		[]string{"type"},
	)

	prometheusBroadcastFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "popnode",
			Subsystem: "p2p",
			Name:      "broadcast_failures",
			Help:      "Number of peer deliveries that failed after all retries",
		},
	)

	prometheusPeers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "popnode",
			Subsystem: "p2p",
			Name:      "peers",
			Help:      "Number of live peers",
		},
	)

	prometheusPeersBanned = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "popnode",
			Subsystem: "p2p",
			Name:      "peers_banned",
			Help:      "Number of peer bans",
		},
	)

	prometheusPeerBlocks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "popnode",
			Subsystem: "p2p",
			Name:      "peer_blocks",
			Help:      "Number of blocks received from peers by outcome",
		},
		[]string{"outcome"},
	)
}
