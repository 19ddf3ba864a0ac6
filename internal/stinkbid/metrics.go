package stinkbid

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BidsPlacedTotal counts stink bid signals emitted.
	BidsPlacedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polybot_stinkbid_bids_placed_total",
		Help: "Total number of stink bids placed",
	})

	// FillsTotal counts stink bids that crossed.
	FillsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polybot_stinkbid_fills_total",
		Help: "Total number of stink bids filled",
	})

	// RefreshesTotal counts bids that left the book, by terminal status.
	RefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polybot_stinkbid_refreshes_total",
			Help: "Total number of stink bids removed from tracking",
		},
		[]string{"status"},
	)
)
