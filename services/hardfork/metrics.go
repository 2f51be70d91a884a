package hardfork

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusHardForkState prometheus.Gauge
)

var prometheusMetricsInitOnce sync.Once

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusHardForkState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "popnode",
			Subsystem: "hardfork",
			Name:      "state",
			Help:      "Fork state: 0 pre fork, 1 activating, 2 post fork",
		},
	)
}

func setStateGauge(state string) {
	switch state {
	case StatePreFork:
		prometheusHardForkState.Set(0)
	case StateActivating:
		prometheusHardForkState.Set(1)
	case StatePostFork:
		prometheusHardForkState.Set(2)
	}
}
