package portfolio

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PortfolioTotalUSD tracks total portfolio value.
	PortfolioTotalUSD = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "polybot_portfolio_total_usd",
		Help: "Total portfolio value (cash plus open positions)",
	})

	// UnrealizedPnLUSD tracks open P&L.
	UnrealizedPnLUSD = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "polybot_portfolio_unrealized_pnl_usd",
		Help: "Unrealized P&L across open positions",
	})

	// RealizedPnLTodayUSD tracks today's realized P&L.
	RealizedPnLTodayUSD = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "polybot_portfolio_realized_pnl_today_usd",
		Help: "Realized P&L since UTC midnight",
	})
)
