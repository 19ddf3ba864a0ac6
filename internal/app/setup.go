package app

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
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
	"github.com/mselser95/polymarket-bot/pkg/cache"
	"github.com/mselser95/polymarket-bot/pkg/config"
	"github.com/mselser95/polymarket-bot/pkg/healthprobe"
	"github.com/mselser95/polymarket-bot/pkg/httpserver"
	"github.com/mselser95/polymarket-bot/pkg/ratelimit"
	"github.com/mselser95/polymarket-bot/pkg/wallet"
	"github.com/mselser95/polymarket-bot/pkg/websocket"
)

// Paper trading starts from a fixed simulated cash balance.
const paperStartingCashUSD = 1000.0

// New builds the full application graph.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	err := a.setup()
	if err != nil {
		cancel()
		return nil, err
	}

	return a, nil
}

func (a *App) setup() error {
	var err error

	a.store, err = store.Open(&store.Config{
		Path:   a.cfg.App.DatabasePath,
		Logger: a.logger,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	a.gate, err = risk.New(a.ctx, &risk.Config{
		Config: a.cfg,
		Store:  a.store,
		Logger: a.logger,
	})
	if err != nil {
		return fmt.Errorf("create risk gate: %w", err)
	}

	a.wsManager = websocket.New(websocket.Config{
		URL:                   a.cfg.Chain.WSURL,
		DialTimeout:           a.cfg.WebSocket.DialTimeout.Std(),
		PongTimeout:           a.cfg.WebSocket.PongTimeout.Std(),
		PingInterval:          a.cfg.WebSocket.PingInterval.Std(),
		ReconnectInitialDelay: a.cfg.WebSocket.ReconnectInitialDelay.Std(),
		ReconnectMaxDelay:     a.cfg.WebSocket.ReconnectMaxDelay.Std(),
		ReconnectBackoffMult:  a.cfg.WebSocket.ReconnectBackoffMult,
		MessageBufferSize:     a.cfg.WebSocket.MessageBufferSize,
		Logger:                a.logger,
	})

	if err := a.setupAdapter(); err != nil {
		return err
	}

	a.setupNotifications()

	if err := a.setupPipeline(); err != nil {
		return err
	}

	a.setupStrategies()
	a.setupHTTP()

	return nil
}

// setupAdapter wires the exchange backend: signed CLOB orders in live mode,
// the in-process simulation (with real Gamma/Data market data) in paper
// mode.
func (a *App) setupAdapter() error {
	limiter := ratelimit.New(ratelimit.Config{
		OpsPerMinute: a.cfg.RateLimit.OpsPerMinute,
		Logger:       a.logger,
	})

	marketCache, err := cache.NewRistrettoCache(&cache.RistrettoConfig{
		NumCounters: 10000,
		MaxCost:     1000,
		BufferItems: 64,
		Logger:      a.logger,
	})
	if err != nil {
		return fmt.Errorf("create market cache: %w", err)
	}

	gamma := exchange.NewGammaClient(a.cfg.Chain.GammaURL, a.logger)
	data := exchange.NewDataClient(a.cfg.Chain.DataAPIURL, a.logger)

	clob, err := exchange.NewCLOBClient(&exchange.CLOBConfig{
		BaseURL:       a.cfg.Chain.CLOBURL,
		APIKey:        a.cfg.Secrets.APIKey,
		Secret:        a.cfg.Secrets.APISecret,
		Passphrase:    a.cfg.Secrets.APIPassphrase,
		PrivateKey:    a.cfg.Secrets.WalletPrivateKey,
		ProxyAddress:  a.cfg.Chain.FunderAddress,
		SignatureType: a.cfg.Chain.SignatureType,
		Logger:        a.logger,
	})
	if err != nil {
		return fmt.Errorf("create clob client: %w", err)
	}

	var backendImpl exchange.Backend
	if a.cfg.IsLive() {
		backendImpl = exchange.NewLiveBackend(clob, gamma, data)
	} else {
		// Paper mode: simulated fills against real market data. The CLOB
		// client runs without credentials and serves only its public
		// endpoints.
		a.paper = exchange.NewPaper(a.logger)
		backendImpl = &paperBackend{Paper: a.paper, clob: clob, gamma: gamma, data: data}
	}

	a.adapter = exchange.NewAdapter(&exchange.AdapterConfig{
		Backend:     backendImpl,
		RateLimiter: limiter,
		Cache:       marketCache,
		Logger:      a.logger,
	})

	return nil
}

// setupPipeline wires snapshotter, queue, order manager and position
// manager.
func (a *App) setupPipeline() error {
	balance, err := a.balanceSource()
	if err != nil {
		return err
	}

	a.snapshotter = portfolio.New(&portfolio.Config{
		Balance:  balance,
		Store:    a.store,
		Prices:   a.wsManager,
		Interval: 0, // default 1s cache
		Logger:   a.logger,
	})

	a.queue = order.NewQueue(256, a.logger)
	a.closingSet = position.NewClosingSet()

	a.orderManager = order.New(&order.Config{
		Queue:        a.queue,
		Gate:         a.gate,
		Exchange:     a.adapter,
		Store:        a.store,
		Portfolio:    a.snapshotter,
		Closing:      a.closingSet,
		Alerts:       a.notifier,
		Exits:        a.cfg.Exits,
		TakerFeeRate: a.cfg.Strategies.Arb.TakerFeeRate,
		Logger:       a.logger,
	})

	a.positionMgr = position.New(&position.Config{
		Store:             a.store,
		Exchange:          a.adapter,
		Enqueue:           a.orderManager.Submit,
		Closing:           a.closingSet,
		ResolutionFeeRate: a.cfg.Exits.ResolutionFee,
		Logger:            a.logger,
	})

	a.gate.SetQueueDrainer(a.queue)
	a.gate.SetCanceller(a.adapter)

	return nil
}

// balanceSource returns the cash reader: the on-chain USDC balance of the
// funder wallet in live mode, a fixed simulated balance in paper mode.
func (a *App) balanceSource() (portfolio.BalanceSource, error) {
	if !a.cfg.IsLive() {
		return paperBalance(paperStartingCashUSD), nil
	}

	client, err := wallet.NewClient(a.cfg.Chain.RPCURL, a.cfg.Chain.USDCAddress, a.logger)
	if err != nil {
		return nil, fmt.Errorf("create wallet client: %w", err)
	}
	funder := common.HexToAddress(a.cfg.Chain.FunderAddress)

	return balanceFunc(func(ctx context.Context) (float64, error) {
		return client.USDCBalance(ctx, funder)
	}), nil
}

func (a *App) setupStrategies() {
	if a.cfg.Strategies.CopyTrade.Enabled {
		a.copyTracker = copytrade.New(&copytrade.Config{
			Exchange:  a.adapter,
			Store:     a.store,
			Submit:    a.orderManager.Submit,
			Prices:    a.wsManager,
			Portfolio: a.snapshotter,
			Subscribe: func(tokenIDs []string) {
				if err := a.wsManager.Subscribe(tokenIDs); err != nil {
					a.logger.Warn("whale-token-subscribe-failed", zap.Error(err))
				}
			},
			Strategy: a.cfg.Strategies.CopyTrade,
			Wallets:  a.cfg.EnabledWallets(),
			Logger:   a.logger,
		})
	}

	if a.cfg.Strategies.Arb.Enabled {
		a.arbScanner = arb.New(&arb.Config{
			Exchange: a.adapter,
			Submit:   a.orderManager.Submit,
			Strategy: a.cfg.Strategies.Arb,
			Logger:   a.logger,
		})
	}

	if a.cfg.Strategies.StinkBid.Enabled {
		a.stinkBidder = stinkbid.New(&stinkbid.Config{
			Exchange:  a.adapter,
			Store:     a.store,
			Submit:    a.orderManager.Submit,
			Adopter:   a.orderManager,
			Portfolio: a.snapshotter,
			Strategy:  a.cfg.Strategies.StinkBid,
			Logger:    a.logger,
		})
	}
}

func (a *App) setupNotifications() {
	var sender notify.Sender
	var telegram *notify.TelegramSender
	if !a.cfg.Secrets.TelegramBotToken.Empty() && a.cfg.Telegram.ChatID != "" {
		telegram = notify.NewTelegramSender(a.cfg.Secrets.TelegramBotToken, a.cfg.Telegram.ChatID)
		sender = telegram
	} else {
		a.logger.Info("telegram-disabled", zap.String("reason", "missing token or chat id"))
	}

	a.notifier = notify.New(&notify.Config{
		Sender:      sender,
		DedupWindow: a.cfg.Telegram.DedupWindow.Std(),
		Logger:      a.logger,
	})

	a.gate.SetKillCallback(func(reason string) {
		a.notifier.KillActivated(context.Background(), reason)
	})

	if telegram != nil {
		a.cmdListener = notify.NewCommandListener(telegram, a, a.cfg.Telegram.KillConfirmToken, a.logger)
	}
}

func (a *App) setupHTTP() {
	a.healthChecker = healthprobe.New()
	a.healthChecker.Register("exchange", a.adapter.Connected)
	a.healthChecker.Register("websocket", a.wsManager.Connected)
	a.healthChecker.Register("store", func() bool {
		return a.store.Ping(a.ctx) == nil
	})
	a.healthChecker.Register("not_halted", func() bool {
		return !a.gate.IsActive()
	})

	a.httpServer = httpserver.New(&httpserver.Config{
		Port:          a.cfg.App.HTTPPort,
		Logger:        a.logger,
		HealthChecker: a.healthChecker,
	})
}

// balanceFunc adapts a closure to portfolio.BalanceSource.
type balanceFunc func(ctx context.Context) (float64, error)

func (f balanceFunc) USDCBalance(ctx context.Context) (float64, error) { return f(ctx) }

// paperBalance is the fixed simulated cash balance.
type paperBalance float64

func (p paperBalance) USDCBalance(context.Context) (float64, error) { return float64(p), nil }
