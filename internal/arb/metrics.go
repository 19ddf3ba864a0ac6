package arb

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ScansTotal counts completed market sweeps.
	ScansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polybot_arb_scans_total",
		Help: "Total number of arbitrage market sweeps",
	})

	// OpportunitiesTotal counts detected parity gaps.
	OpportunitiesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polybot_arb_opportunities_total",
			Help: "Total number of detected parity arbitrage opportunities",
		},
		[]string{"outcome"},
	)

	// ExecutionsTotal counts submitted two-leg executions.
	ExecutionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polybot_arb_executions_total",
		Help: "Total number of two-leg arbitrage executions submitted",
	})
)
