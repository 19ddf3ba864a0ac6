package arb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mselser95/polymarket-bot/internal/exchange"
	"github.com/mselser95/polymarket-bot/pkg/config"
	"github.com/mselser95/polymarket-bot/pkg/types"
)

// Opportunity is one detected (not necessarily executable) parity gap:
// buying both sides of a binary market for less than the guaranteed $1
// payout after fees.
type Opportunity struct {
	MarketID      string
	Question      string
	YesTokenID    string
	NoTokenID     string
	YesAsk        float64
	NoAsk         float64
	TotalCost     float64 // per unit, fees included
	Gap           float64 // 1.0 - TotalCost
	EdgePct       float64
	SizePerLegUSD float64
	Executable    bool
	SkipReason    string
	DetectedAt    time.Time
}

// Scanner sweeps active binary markets for parity arbitrage. Prices come
// from the live orderbook's best asks, never from aggregate quotes: the
// trade only works at prices that can actually be hit. Execution is two FOK
// legs with the unwind guarantee enforced downstream by the order manager.
type Scanner struct {
	exch   exchange.Exchange
	submit func(*types.Signal) error
	cfg    config.ArbConfig
	logger *zap.Logger

	mu     sync.Mutex
	recent []Opportunity

	wg sync.WaitGroup
}

// Config holds scanner configuration.
type Config struct {
	Exchange exchange.Exchange
	Submit   func(*types.Signal) error
	Strategy config.ArbConfig
	Logger   *zap.Logger
}

// New creates a Scanner.
func New(cfg *Config) *Scanner {
	return &Scanner{
		exch:   cfg.Exchange,
		submit: cfg.Submit,
		cfg:    cfg.Strategy,
		logger: cfg.Logger,
	}
}

// Run scans on the configured interval until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) {
	interval := s.cfg.ScanInterval.Std()
	if interval <= 0 {
		interval = 10 * time.Second
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("arb-scanner-stopping")
				return
			case <-ticker.C:
				s.Scan(ctx)
			}
		}
	}()
}

// Close waits for the scan loop to stop.
func (s *Scanner) Close() {
	s.wg.Wait()
}

// Scan evaluates every active binary market once.
func (s *Scanner) Scan(ctx context.Context) {
	markets, err := s.exch.ActiveMarkets(ctx, s.cfg.MarketLimit)
	if err != nil {
		s.logger.Error("arb-market-fetch-failed", zap.Error(err))
		return
	}

	ScansTotal.Inc()

	for _, market := range markets {
		if !market.IsBinary() || market.Closed {
			continue
		}

		opp := s.evaluateMarket(ctx, market)
		if opp == nil {
			continue
		}

		s.record(*opp)

		if opp.Executable {
			s.execute(opp)
		}
	}
}

// evaluateMarket prices both legs off the live book and decides whether the
// gap clears fees plus the configured margin. Returns nil when there is no
// gap at all.
func (s *Scanner) evaluateMarket(ctx context.Context, market *types.Market) *Opportunity {
	yes := market.TokenByOutcome("Yes")
	no := market.TokenByOutcome("No")
	if yes == nil || no == nil {
		return nil
	}

	yesBook, err := s.exch.Orderbook(ctx, yes.TokenID)
	if err != nil {
		s.logger.Debug("arb-book-fetch-failed",
			zap.String("token-id", yes.TokenID), zap.Error(err))
		return nil
	}
	noBook, err := s.exch.Orderbook(ctx, no.TokenID)
	if err != nil {
		s.logger.Debug("arb-book-fetch-failed",
			zap.String("token-id", no.TokenID), zap.Error(err))
		return nil
	}

	yesAsk, yesSize, yesOK := yesBook.BestAsk()
	noAsk, noSize, noOK := noBook.BestAsk()
	if !yesOK || !noOK || yesAsk <= 0 || noAsk <= 0 || yesAsk >= 1 || noAsk >= 1 {
		return nil
	}

	// The taker fee applies per leg to that leg's notional: for one unit of
	// each side, fee = ask * rate, so the all-in unit cost is the price sum
	// grossed up by the rate. Never a percentage of a percentage.
	priceSum := yesAsk + noAsk
	totalCost := priceSum * (1 + s.cfg.TakerFeeRate)
	gap := 1.0 - totalCost

	if priceSum >= 1.0 {
		return nil // no gap even before fees
	}

	edgePct := 0.0
	if totalCost > 0 {
		edgePct = gap / totalCost * 100
	}

	opp := &Opportunity{
		MarketID:      market.ConditionID,
		Question:      market.Question,
		YesTokenID:    yes.TokenID,
		NoTokenID:     no.TokenID,
		YesAsk:        yesAsk,
		NoAsk:         noAsk,
		TotalCost:     totalCost,
		Gap:           gap,
		EdgePct:       edgePct,
		SizePerLegUSD: s.cfg.SizePerLegUSD,
		DetectedAt:    time.Now(),
		Executable:    true,
	}

	// All detected gaps are logged, executable or not.
	switch {
	case totalCost >= 1.0-s.cfg.Margin:
		opp.Executable = false
		opp.SkipReason = fmt.Sprintf("gap %.4f below margin %.4f", gap, s.cfg.Margin)
	case yesSize*yesAsk < s.cfg.SizePerLegUSD || noSize*noAsk < s.cfg.SizePerLegUSD:
		opp.Executable = false
		opp.SkipReason = fmt.Sprintf("book too thin (yes $%.0f, no $%.0f)", yesSize*yesAsk, noSize*noAsk)
	}

	OpportunitiesTotal.WithLabelValues(executableLabel(opp.Executable)).Inc()

	s.logger.Info("arb-opportunity-detected",
		zap.String("market-id", opp.MarketID),
		zap.String("question", truncate(opp.Question, 60)),
		zap.Float64("yes-ask", yesAsk),
		zap.Float64("no-ask", noAsk),
		zap.Float64("total-cost", totalCost),
		zap.Float64("gap", gap),
		zap.Float64("edge-pct", edgePct),
		zap.Float64("size-per-leg-usd", opp.SizePerLegUSD),
		zap.Bool("executable", opp.Executable),
		zap.String("skip-reason", opp.SkipReason))

	return opp
}

// execute emits the two FOK legs. Leg 2 carries enough context for the
// order manager to unwind leg 1 if it fails.
func (s *Scanner) execute(opp *Opportunity) {
	pairID := fmt.Sprintf("arb-%s-%s", truncate(opp.MarketID, 12), uuid.NewString()[:8])

	leg1 := &types.Signal{
		ID:         uuid.NewString(),
		Strategy:   types.StrategyArb,
		MarketID:   opp.MarketID,
		TokenID:    opp.YesTokenID,
		Side:       types.SideBuy,
		SizeUSD:    opp.SizePerLegUSD,
		LimitPrice: opp.YesAsk,
		OrderType:  types.OrderTypeFOK,
		Reasoning:  fmt.Sprintf("parity arb: yes+no=%.4f, gap=%.4f", opp.YesAsk+opp.NoAsk, opp.Gap),
		Meta: types.SignalMeta{
			ArbPairID: pairID,
			ArbLeg:    1,
			EdgePct:   opp.EdgePct,
			HasEdge:   true,
		},
	}

	leg2 := &types.Signal{
		ID:         uuid.NewString(),
		Strategy:   types.StrategyArb,
		MarketID:   opp.MarketID,
		TokenID:    opp.NoTokenID,
		Side:       types.SideBuy,
		SizeUSD:    opp.SizePerLegUSD,
		LimitPrice: opp.NoAsk,
		OrderType:  types.OrderTypeFOK,
		Reasoning:  fmt.Sprintf("parity arb leg 2 of %s", pairID),
		Meta: types.SignalMeta{
			ArbPairID:        pairID,
			ArbLeg:           2,
			EdgePct:          opp.EdgePct,
			HasEdge:          true,
			UnwindTokenID:    opp.YesTokenID,
			UnwindMarketID:   opp.MarketID,
			UnwindLimitPrice: opp.YesAsk,
			UnwindSizeUSD:    opp.SizePerLegUSD,
		},
	}

	if err := s.submit(leg1); err != nil {
		s.logger.Error("arb-leg1-submit-failed", zap.Error(err))
		return
	}
	if err := s.submit(leg2); err != nil {
		// Leg 1 is queued but leg 2 never will be; the order manager's
		// pairing logic sees no leg 2 and leg 1 simply becomes a position
		// held to resolution. Log loudly.
		s.logger.Error("arb-leg2-submit-failed",
			zap.String("pair-id", pairID),
			zap.Error(err))
		return
	}

	ExecutionsTotal.Inc()
	s.logger.Info("arb-legs-submitted",
		zap.String("pair-id", pairID),
		zap.Float64("size-per-leg-usd", opp.SizePerLegUSD))
}

// record keeps a bounded history for the status surface.
func (s *Scanner) record(opp Opportunity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recent = append(s.recent, opp)
	if len(s.recent) > 100 {
		s.recent = s.recent[len(s.recent)-100:]
	}
}

// Recent returns the retained opportunity history, newest last.
func (s *Scanner) Recent() []Opportunity {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Opportunity, len(s.recent))
	copy(out, s.recent)
	return out
}

func executableLabel(executable bool) string {
	if executable {
		return "executable"
	}
	return "skipped"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
