package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AcquiredTotal counts granted request slots.
	AcquiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polybot_ratelimit_acquired_total",
		Help: "Total number of rate limit slots granted",
	})

	// ThrottlesTotal counts exchange throttle responses.
	ThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polybot_ratelimit_throttles_total",
		Help: "Total number of exchange throttle responses recorded",
	})

	// WindowWaitSeconds observes time spent waiting for the window to free up.
	WindowWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "polybot_ratelimit_window_wait_seconds",
		Help:    "Time spent waiting for a rate limit window slot",
		Buckets: prometheus.DefBuckets,
	})

	// ThrottleWaitSeconds observes time spent in throttle backoff.
	ThrottleWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "polybot_ratelimit_throttle_wait_seconds",
		Help:    "Time spent backing off after exchange throttle responses",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 60},
	})
)
