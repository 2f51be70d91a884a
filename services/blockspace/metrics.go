package blockspace

import (
	"sync"

	"github.com/goldcoin/popnode/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusBuildTemplate       prometheus.Histogram
	prometheusFreeZoneUtilization prometheus.Gauge
	prometheusTemplateUtilization prometheus.Gauge
	prometheusMinFeeRate          prometheus.Gauge
	prometheusFeeRatePercentile   *prometheus.GaugeVec
)

var percentileLabels = []string{"p25", "p50", "p75", "p95"}

var prometheusMetricsInitOnce sync.Once

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusBuildTemplate = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "popnode",
			Subsystem: "blockspace",
			Name:      "build_template",
			Help:      "Histogram of block template build time",
			Buckets:   util.MetricsBucketsMicroSeconds,
		},
	)

	prometheusFreeZoneUtilization = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "popnode",
			Subsystem: "blockspace",
			Name:      "free_zone_utilization",
			Help:      "Free zone utilization of the last template in percent",
		},
	)

	prometheusTemplateUtilization = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "popnode",
			Subsystem: "blockspace",
			Name:      "template_utilization",
			Help:      "Block space utilization of the last template in percent",
		},
	)

	prometheusMinFeeRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "popnode",
			Subsystem: "blockspace",
			Name:      "min_fee_rate",
			Help:      "Current minimum fee rate in satoshis per KB",
		},
	)

	prometheusFeeRatePercentile = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "popnode",
			Subsystem: "blockspace",
			Name:      "fee_rate_percentile",
			Help:      "Fee rate percentiles over the recent templates in satoshis per KB",
		},
		[]string{"percentile"},
	)
}
