package risk

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ApprovalsTotal counts approved signals per strategy.
	ApprovalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polybot_risk_approvals_total",
			Help: "Total number of approved signals",
		},
		[]string{"strategy"},
	)

	// RejectionsTotal counts rejections per reason.
	RejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polybot_risk_rejections_total",
			Help: "Total number of rejected signals",
		},
		[]string{"reason"},
	)

	// KillSwitchActive is 1 while the kill switch is tripped.
	KillSwitchActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "polybot_risk_kill_switch_active",
		Help: "Whether the kill switch is currently active",
	})
)
