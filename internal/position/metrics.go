package position

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ExitsEmittedTotal counts exit signals emitted per trigger reason.
	ExitsEmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polybot_position_exits_emitted_total",
			Help: "Total number of exit signals emitted",
		},
		[]string{"reason"},
	)

	// ResolutionsTotal counts positions settled by market resolution.
	ResolutionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polybot_position_resolutions_total",
		Help: "Total number of positions settled by market resolution",
	})

	// UnrealizedPnL tracks open P&L per strategy.
	UnrealizedPnL = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "polybot_position_unrealized_pnl_usd",
			Help: "Unrealized P&L of open positions",
		},
		[]string{"strategy"},
	)
)
