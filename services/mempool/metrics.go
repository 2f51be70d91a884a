package mempool

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusTransactionsAccepted prometheus.Counter
	prometheusTransactionsRejected prometheus.Counter
	prometheusTransactionsEvicted  prometheus.Counter
	prometheusSize                 prometheus.Gauge
	prometheusSizeBytes            prometheus.Gauge
)

var prometheusMetricsInitOnce sync.Once

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusTransactionsAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "popnode",
			Subsystem: "mempool",
			Name:      "transactions_accepted",
			Help:      "Number of transactions admitted to the mempool",
		},
	)

	prometheusTransactionsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "popnode",
			Subsystem: "mempool",
			Name:      "transactions_rejected",
			Help:      "Number of transactions refused by the mempool",
		},
	)

	prometheusTransactionsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "popnode",
			Subsystem: "mempool",
			Name:      "transactions_evicted",
			Help:      "Number of transactions evicted to keep the mempool within its limits",
		},
	)

	prometheusSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "popnode",
			Subsystem: "mempool",
			Name:      "size",
			Help:      "Number of transactions in the mempool",
		},
	)

	prometheusSizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "popnode",
			Subsystem: "mempool",
			Name:      "size_bytes",
			Help:      "Total size of the transactions in the mempool",
		},
	)
}
