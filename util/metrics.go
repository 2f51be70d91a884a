package util

import "github.com/prometheus/client_golang/prometheus"

// Histogram buckets shared by the node's services. Both double per step over twelve
// buckets.
var (
	// MetricsBucketsMicroSeconds covers 128µs to 262ms, for in-memory work such as fee
	// estimation and template selection.
	MetricsBucketsMicroSeconds = prometheus.ExponentialBuckets(128e-6, 2, 12)

	// MetricsBucketsMilliSeconds covers 1ms to 2s, for block connection and lottery draws.
	MetricsBucketsMilliSeconds = prometheus.ExponentialBuckets(1e-3, 2, 12)
)
