package chainstate

import (
	"sync"

	"github.com/goldcoin/popnode/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusChainStateBlocksConnected    prometheus.Counter
	prometheusChainStateBlocksDisconnected prometheus.Counter
	prometheusChainStateBlocksRejected     prometheus.Counter
	prometheusChainStateReorgs             prometheus.Counter
	prometheusChainStateReorgDepth         prometheus.Histogram
	prometheusChainStateProcessBlock       prometheus.Histogram
	prometheusChainStateCommitErrors       prometheus.Counter
	prometheusChainStateHeight             prometheus.Gauge
	prometheusChainStateUtxos              prometheus.Gauge
	prometheusChainStateSupply             prometheus.Gauge
	prometheusChainStateHalted             prometheus.Gauge
)

var prometheusMetricsInitOnce sync.Once

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusChainStateBlocksConnected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "popnode",
			Subsystem: "chainstate",
			Name:      "blocks_connected",
			Help:      "Number of blocks connected to the best chain",
		},
	)

	prometheusChainStateBlocksDisconnected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "popnode",
			Subsystem: "chainstate",
			Name:      "blocks_disconnected",
			Help:      "Number of blocks disconnected by reorganizations",
		},
	)

	prometheusChainStateBlocksRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "popnode",
			Subsystem: "chainstate",
			Name:      "blocks_rejected",
			Help:      "Number of blocks rejected by ProcessBlock",
		},
	)

	prometheusChainStateReorgs = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "popnode",
			Subsystem: "chainstate",
			Name:      "reorgs",
			Help:      "Number of chain reorganizations",
		},
	)

	prometheusChainStateReorgDepth = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "popnode",
			Subsystem: "chainstate",
			Name:      "reorg_depth",
			Help:      "Blocks disconnected per reorganization",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 30},
		},
	)

	prometheusChainStateProcessBlock = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "popnode",
			Subsystem: "chainstate",
			Name:      "process_block",
			Help:      "Histogram of successful ProcessBlock calls",
			Buckets:   util.MetricsBucketsMilliSeconds,
		},
	)

	prometheusChainStateCommitErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "popnode",
			Subsystem: "chainstate",
			Name:      "commit_errors",
			Help:      "Number of store transactions that failed to commit",
		},
	)

	prometheusChainStateHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "popnode",
			Subsystem: "chainstate",
			Name:      "height",
			Help:      "Height of the best chain",
		},
	)

	prometheusChainStateUtxos = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "popnode",
			Subsystem: "chainstate",
			Name:      "utxos",
			Help:      "Number of unspent outputs",
		},
	)

	prometheusChainStateSupply = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "popnode",
			Subsystem: "chainstate",
			Name:      "supply",
			Help:      "Total value of all unspent outputs in satoshis",
		},
	)

	prometheusChainStateHalted = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "popnode",
			Subsystem: "chainstate",
			Name:      "halted",
			Help:      "1 when block processing is halted by a fatal error",
		},
	)
}
