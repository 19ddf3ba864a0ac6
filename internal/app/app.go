package app

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/mselser95/polymarket-bot/internal/arb"
	"github.com/mselser95/polymarket-bot/internal/copytrade"
	"github.com/mselser95/polymarket-bot/internal/exchange"
	"github.com/mselser95/polymarket-bot/internal/notify"
	"github.com/mselser95/polymarket-bot/internal/order"
	"github.com/mselser95/polymarket-bot/internal/portfolio"
	"github.com/mselser95/polymarket-bot/internal/position"
	"github.com/mselser95/polymarket-bot/internal/risk"
	"github.com/mselser95/polymarket-bot/internal/stinkbid"
	"github.com/mselser95/polymarket-bot/internal/store"
	"github.com/mselser95/polymarket-bot/pkg/config"
	"github.com/mselser95/polymarket-bot/pkg/healthprobe"
	"github.com/mselser95/polymarket-bot/pkg/httpserver"
	"github.com/mselser95/polymarket-bot/pkg/websocket"
)

// App wires and supervises every component: store, risk gate, exchange
// adapter, market feed, portfolio snapshotter, order and position managers,
// the three strategies, the notifier, and the HTTP surface.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	store         *store.Store
	gate          *risk.Gate
	adapter       *exchange.Adapter
	paper         *exchange.Paper // nil in live mode
	wsManager     *websocket.Manager
	snapshotter   *portfolio.Snapshotter
	queue         *order.Queue
	orderManager  *order.Manager
	closingSet    *position.ClosingSet
	positionMgr   *position.Manager
	copyTracker   *copytrade.Tracker
	arbScanner    *arb.Scanner
	stinkBidder   *stinkbid.Bidder
	notifier      *notify.Notifier
	cmdListener   *notify.CommandListener
	healthChecker *healthprobe.HealthChecker
	httpServer    *httpserver.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}
