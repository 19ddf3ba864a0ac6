package copytrade

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EntrySignalsTotal counts copy BUY signals emitted.
	EntrySignalsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polybot_copytrade_entry_signals_total",
		Help: "Total number of copy entry signals emitted",
	})

	// ExitSignalsTotal counts copy SELL signals emitted.
	ExitSignalsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polybot_copytrade_exit_signals_total",
		Help: "Total number of copy exit signals emitted",
	})

	// SkipsTotal counts skipped whale holdings per filter.
	SkipsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polybot_copytrade_skips_total",
			Help: "Total number of whale holdings skipped by filters",
		},
		[]string{"filter"},
	)
)
