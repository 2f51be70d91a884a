package participation

import (
	"sync"

	"github.com/goldcoin/popnode/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusLotteryAttempts      prometheus.Counter
	prometheusLotteryWins          prometheus.Counter
	prometheusBlocksProduced       prometheus.Counter
	prometheusCandidatesRejected   prometheus.Counter
	prometheusValidationFailures   prometheus.Counter
	prometheusValidateBlock        prometheus.Histogram
	prometheusParticipants         prometheus.Gauge
	prometheusEligibleParticipants prometheus.Gauge
)

var prometheusMetricsInitOnce sync.Once

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusLotteryAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "popnode",
			Subsystem: "participation",
			Name:      "lottery_attempts",
			Help:      "Number of lottery tickets drawn by the local producer",
		},
	)

	prometheusLotteryWins = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "popnode",
			Subsystem: "participation",
			Name:      "lottery_wins",
			Help:      "Number of winning lottery tickets drawn by the local producer",
		},
	)

	prometheusBlocksProduced = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "popnode",
			Subsystem: "participation",
			Name:      "blocks_produced",
			Help:      "Number of locally produced blocks accepted by the chain",
		},
	)

	prometheusCandidatesRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "popnode",
			Subsystem: "participation",
			Name:      "candidates_rejected",
			Help:      "Number of locally produced candidates that were rejected or superseded",
		},
	)

	prometheusValidationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "popnode",
			Subsystem: "participation",
			Name:      "validation_failures",
			Help:      "Number of participation blocks failing validation",
		},
	)

	prometheusValidateBlock = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "popnode",
			Subsystem: "participation",
			Name:      "validate_block",
			Help:      "Histogram of participation block validation time",
			Buckets:   util.MetricsBucketsMilliSeconds,
		},
	)

	prometheusParticipants = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "popnode",
			Subsystem: "participation",
			Name:      "participants",
			Help:      "Number of active stake locks",
		},
	)

	prometheusEligibleParticipants = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "popnode",
			Subsystem: "participation",
			Name:      "eligible_participants",
			Help:      "Number of participants eligible for the next lottery",
		},
	)
}
