package order

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueDepth tracks pending signals per lane.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "polybot_order_queue_depth",
			Help: "Number of signals waiting in the queue",
		},
		[]string{"lane"},
	)

	// QueueDroppedTotal counts overflow drops per lane.
	QueueDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polybot_order_queue_dropped_total",
			Help: "Total number of signals dropped on queue overflow",
		},
		[]string{"lane"},
	)

	// OrdersSubmittedTotal counts submissions per strategy and side.
	OrdersSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polybot_order_submitted_total",
			Help: "Total number of orders submitted to the exchange",
		},
		[]string{"strategy", "side"},
	)

	// OrdersFilledTotal counts confirmed fills per strategy.
	OrdersFilledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polybot_order_filled_total",
			Help: "Total number of orders confirmed filled",
		},
		[]string{"strategy"},
	)

	// OrdersFailedTotal counts terminal failures per strategy and status.
	OrdersFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polybot_order_failed_total",
			Help: "Total number of orders reaching a non-filled terminal state",
		},
		[]string{"strategy", "status"},
	)

	// ExitRetriesTotal counts exit retry attempts.
	ExitRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polybot_order_exit_retries_total",
		Help: "Total number of exit signal retries",
	})

	// PipelineDurationSeconds observes per-signal pipeline latency.
	PipelineDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "polybot_order_pipeline_duration_seconds",
		Help:    "Duration of the per-signal execution pipeline",
		Buckets: prometheus.DefBuckets,
	})
)

// InvariantViolationsTotal counts broken-state observations (e.g. an exit
// signal referencing a position the store does not know).
var InvariantViolationsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "polybot_order_invariant_violations_total",
	Help: "Total number of protocol invariant violations observed",
})
