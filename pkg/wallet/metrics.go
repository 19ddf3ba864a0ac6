package wallet

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// USDCBalanceGauge tracks the last observed USDC balance.
	USDCBalanceGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "polybot_wallet_usdc_balance_usd",
		Help: "Last observed USDC balance of the funder wallet",
	})

	// BalanceQueryErrorsTotal counts failed balance reads.
	BalanceQueryErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polybot_wallet_balance_query_errors_total",
		Help: "Total number of failed on-chain balance queries",
	})
)
