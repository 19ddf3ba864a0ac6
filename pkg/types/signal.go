package types

import "time"

// Strategy identifiers used across signals, positions and persistence.
const (
	StrategyCopyTrade = "copy_trade"
	StrategyArb       = "arb"
	StrategyStinkBid  = "stink_bid"
)

// Order sides.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Order types supported by the CLOB.
const (
	OrderTypeGTC = "GTC" // good-till-cancelled, rests on the book
	OrderTypeFOK = "FOK" // fill-or-kill, fully fill immediately or cancel
	OrderTypeIOC = "IOC" // immediate-or-cancel, partial fills allowed
)

// Signal is a trade intention emitted by a strategy or by the position
// manager. Strategies never place orders directly; every action funnels
// through the order manager as a Signal so risk, rate-limit and accounting
// rules are enforced in one place.
//
// SizeUSD is always USDC notional. Conversion to shares happens exactly once,
// inside the order manager, at submission time using the live price.
type Signal struct {
	ID         string
	Strategy   string
	MarketID   string
	TokenID    string
	Side       string  // SideBuy or SideSell
	SizeUSD    float64 // USDC notional, > 0
	LimitPrice float64 // in (0, 1)
	OrderType  string  // OrderTypeGTC, OrderTypeFOK or OrderTypeIOC
	Reasoning  string
	Meta       SignalMeta
	CreatedAt  time.Time
}

// SignalMeta carries optional, strategy-specific context on a signal.
type SignalMeta struct {
	IsExit           bool
	ParentPositionID int64  // position being exited, when IsExit
	ExitReason       string // take_profit, stop_loss, trailing_stop, resolution, copy_exit, unwind
	EdgePct          float64
	HasEdge          bool // EdgePct is meaningful only when set

	// Copy trading
	SourceWallet     string
	SourceWalletName string
	WhaleEntryPrice  float64

	// Arbitrage leg pairing. ArbPairID links the two legs of one
	// opportunity; ArbLeg is 1 or 2. The second leg carries enough
	// information to unwind the first if it fails.
	ArbPairID        string
	ArbLeg           int
	UnwindTokenID    string
	UnwindMarketID   string
	UnwindLimitPrice float64
	UnwindSizeUSD    float64

	// Stink bids
	StinkBid    bool
	DiscountPct float64
}

// IsExit reports whether the signal closes (part of) an existing position.
// Exit signals bypass allocation, sizing and duplicate-market risk checks and
// have reserved queue capacity.
func (s *Signal) IsExit() bool {
	return s.Meta.IsExit
}
