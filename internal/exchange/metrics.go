package exchange

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CallDurationSeconds tracks exchange call latency per operation.
	CallDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "polybot_exchange_call_duration_seconds",
			Help:    "Duration of exchange API calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// CallErrorsTotal tracks exchange call failures per operation.
	CallErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polybot_exchange_call_errors_total",
			Help: "Total number of failed exchange API calls",
		},
		[]string{"op"},
	)
)
