package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Native USDC on Polygon. The bridged USDC.e contract reports a different
// balance and must never be substituted here.
const defaultUSDCAddress = "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359"

// Config holds all application configuration. Structural parameters come
// from a TOML file; secrets come from the environment (optionally seeded
// from a .env file).
type Config struct {
	App        AppConfig        `toml:"app"`
	Chain      ChainConfig      `toml:"chain"`
	Risk       RiskConfig       `toml:"risk"`
	RateLimit  RateLimitConfig  `toml:"ratelimit"`
	WebSocket  WebSocketConfig  `toml:"websocket"`
	Exits      ExitConfig       `toml:"exits"`
	Strategies StrategiesConfig `toml:"strategies"`
	Wallets    []TrackedWallet  `toml:"wallets"`
	Telegram   TelegramConfig   `toml:"telegram"`

	Secrets Secrets `toml:"-"`
}

// AppConfig holds process-level settings.
type AppConfig struct {
	LogLevel     string `toml:"log_level"`
	HTTPPort     string `toml:"http_port"`
	DatabasePath string `toml:"database_path"`
	TradingMode  string `toml:"trading_mode"` // "paper" or "live"
}

// ChainConfig holds Polygon endpoints and addresses.
type ChainConfig struct {
	RPCURL        string `toml:"rpc_url"`
	USDCAddress   string `toml:"usdc_address"`
	FunderAddress string `toml:"funder_address"`
	CLOBURL       string `toml:"clob_url"`
	GammaURL      string `toml:"gamma_url"`
	DataAPIURL    string `toml:"data_api_url"`
	WSURL         string `toml:"ws_url"`
	SignatureType int    `toml:"signature_type"`
}

// RiskConfig holds the limits enforced by the risk gate.
type RiskConfig struct {
	MaxPositionPct     float64  `toml:"max_position_pct"`
	MaxOpenPositions   int      `toml:"max_open_positions"`
	DailyLossPct       float64  `toml:"daily_loss_pct"`
	ReservePct         float64  `toml:"reserve_pct"`
	MinEdgePct         float64  `toml:"min_edge_pct"`
	MinPositionUSD     float64  `toml:"min_position_usd"`
	SnapshotStaleAfter duration `toml:"snapshot_stale_after"`
}

// RateLimitConfig bounds outbound exchange calls.
type RateLimitConfig struct {
	OpsPerMinute int `toml:"ops_per_minute"`
}

// WebSocketConfig holds market-feed connection tuning.
type WebSocketConfig struct {
	DialTimeout           duration `toml:"dial_timeout"`
	PongTimeout           duration `toml:"pong_timeout"`
	PingInterval          duration `toml:"ping_interval"`
	ReconnectInitialDelay duration `toml:"reconnect_initial_delay"`
	ReconnectMaxDelay     duration `toml:"reconnect_max_delay"`
	ReconnectBackoffMult  float64  `toml:"reconnect_backoff_multiplier"`
	MessageBufferSize     int      `toml:"message_buffer_size"`
}

// TakeProfitTier defines one rung of the take-profit ladder attached to new
// positions: when the gain reaches GainPct, sell SellPct of current shares.
type TakeProfitTier struct {
	GainPct float64 `toml:"gain_pct"`
	SellPct float64 `toml:"sell_pct"`
}

// ExitConfig holds the default exit rules attached to entries.
type ExitConfig struct {
	TakeProfit      []TakeProfitTier `toml:"take_profit"`
	StopLossPct     float64          `toml:"stop_loss_pct"`
	TrailingStopPct float64          `toml:"trailing_stop_pct"`
	ResolutionFee   float64          `toml:"resolution_fee_rate"` // fraction of winnings
}

// StrategiesConfig holds per-strategy parameters.
type StrategiesConfig struct {
	CopyTrade CopyTradeConfig `toml:"copy_trade"`
	Arb       ArbConfig       `toml:"arb"`
	StinkBid  StinkBidConfig  `toml:"stink_bid"`
}

// CopyTradeConfig parameterizes whale tracking.
type CopyTradeConfig struct {
	Enabled          bool     `toml:"enabled"`
	AllocationPct    float64  `toml:"allocation_pct"`
	PollInterval     duration `toml:"poll_interval"`
	SizingMethod     string   `toml:"sizing_method"` // "fixed", "portfolio_pct", "whale_pct"
	FixedSizeUSD     float64  `toml:"fixed_size_usd"`
	PortfolioPct     float64  `toml:"portfolio_pct"`
	WhalePct         float64  `toml:"whale_pct"`
	MinWhaleValueUSD float64  `toml:"min_whale_value_usd"`
	MaxSlippagePct   float64  `toml:"max_slippage_pct"`
	OrderType        string   `toml:"order_type"`
}

// ArbConfig parameterizes the parity-arbitrage scanner.
type ArbConfig struct {
	Enabled       bool     `toml:"enabled"`
	AllocationPct float64  `toml:"allocation_pct"`
	ScanInterval  duration `toml:"scan_interval"`
	Margin        float64  `toml:"margin"`         // required gap below 1.0 after fees
	TakerFeeRate  float64  `toml:"taker_fee_rate"` // per-leg, fraction of notional
	SizePerLegUSD float64  `toml:"size_per_leg_usd"`
	MarketLimit   int      `toml:"market_limit"`
}

// StinkBidConfig parameterizes the deep-discount bidder.
type StinkBidConfig struct {
	Enabled            bool     `toml:"enabled"`
	AllocationPct      float64  `toml:"allocation_pct"`
	RefreshInterval    duration `toml:"refresh_interval"`
	MaxActiveBids      int      `toml:"max_active_bids"`
	MinDiscount        float64  `toml:"min_discount"` // e.g. 0.70
	MaxDiscount        float64  `toml:"max_discount"` // e.g. 0.90
	MinMarketVolumeUSD float64  `toml:"min_market_volume_usd"`
	BidSizeUSD         float64  `toml:"bid_size_usd"`
}

// TrackedWallet is one whale wallet the copy-trade strategy follows.
type TrackedWallet struct {
	Address          string  `toml:"address"`
	Name             string  `toml:"name"`
	MaxAllocationUSD float64 `toml:"max_allocation_usd"`
	Enabled          bool    `toml:"enabled"`
}

// TelegramConfig holds the alert/command channel settings. The bot token is
// a secret and comes from the environment.
type TelegramConfig struct {
	ChatID              string   `toml:"chat_id"`
	DailySummaryUTCHour int      `toml:"daily_summary_utc_hour"`
	DedupWindow         duration `toml:"dedup_window"`
	KillConfirmToken    string   `toml:"kill_confirm_token"`
}

// Secrets holds credentials loaded from the environment. Every field uses
// the Secret wrapper so accidental logging or serialization redacts them.
type Secrets struct {
	APIKey           Secret
	APISecret        Secret
	APIPassphrase    Secret
	WalletPrivateKey Secret
	TelegramBotToken Secret
}

// duration wraps time.Duration for TOML decoding from strings like "30s".
type duration time.Duration

// UnmarshalText implements toml decoding for duration values.
func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

// Std returns the wrapped time.Duration.
func (d duration) Std() time.Duration { return time.Duration(d) }

// Load reads the TOML config file at path, applies defaults, loads secrets
// from the environment (seeded from .env when present) and validates the
// result. An empty or missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if len(data) > 0 {
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	cfg.Secrets = Secrets{
		APIKey:           Secret(os.Getenv("POLYMARKET_API_KEY")),
		APISecret:        Secret(os.Getenv("POLYMARKET_SECRET")),
		APIPassphrase:    Secret(os.Getenv("POLYMARKET_PASSPHRASE")),
		WalletPrivateKey: Secret(os.Getenv("WALLET_PRIVATE_KEY")),
		TelegramBotToken: Secret(os.Getenv("TELEGRAM_BOT_TOKEN")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		App: AppConfig{
			LogLevel:     "info",
			HTTPPort:     "8080",
			DatabasePath: "data/polybot.db",
			TradingMode:  "paper",
		},
		Chain: ChainConfig{
			RPCURL:      "https://polygon-rpc.com",
			USDCAddress: defaultUSDCAddress,
			CLOBURL:     "https://clob.polymarket.com",
			GammaURL:    "https://gamma-api.polymarket.com",
			DataAPIURL:  "https://data-api.polymarket.com",
			WSURL:       "wss://ws-subscriptions-clob.polymarket.com/ws/market",
		},
		Risk: RiskConfig{
			MaxPositionPct:     10,
			MaxOpenPositions:   10,
			DailyLossPct:       5,
			ReservePct:         20,
			MinEdgePct:         5,
			MinPositionUSD:     10,
			SnapshotStaleAfter: duration(10 * time.Second),
		},
		RateLimit: RateLimitConfig{OpsPerMinute: 60},
		WebSocket: WebSocketConfig{
			DialTimeout:           duration(10 * time.Second),
			PongTimeout:           duration(15 * time.Second),
			PingInterval:          duration(10 * time.Second),
			ReconnectInitialDelay: duration(time.Second),
			ReconnectMaxDelay:     duration(30 * time.Second),
			ReconnectBackoffMult:  2.0,
			MessageBufferSize:     1000,
		},
		Exits: ExitConfig{
			TakeProfit: []TakeProfitTier{
				{GainPct: 20, SellPct: 50},
				{GainPct: 50, SellPct: 100},
			},
			StopLossPct:     15,
			TrailingStopPct: 10,
			ResolutionFee:   0.02,
		},
		Strategies: StrategiesConfig{
			CopyTrade: CopyTradeConfig{
				AllocationPct:    30,
				PollInterval:     duration(60 * time.Second),
				SizingMethod:     "fixed",
				FixedSizeUSD:     50,
				PortfolioPct:     5,
				WhalePct:         10,
				MinWhaleValueUSD: 500,
				MaxSlippagePct:   5,
				OrderType:        "GTC",
			},
			Arb: ArbConfig{
				AllocationPct: 20,
				ScanInterval:  duration(10 * time.Second),
				Margin:        0.05,
				TakerFeeRate:  0.01,
				SizePerLegUSD: 50,
				MarketLimit:   50,
			},
			StinkBid: StinkBidConfig{
				AllocationPct:      20,
				RefreshInterval:    duration(5 * time.Minute),
				MaxActiveBids:      10,
				MinDiscount:        0.70,
				MaxDiscount:        0.90,
				MinMarketVolumeUSD: 10000,
				BidSizeUSD:         20,
			},
		},
		Telegram: TelegramConfig{
			DailySummaryUTCHour: 21,
			DedupWindow:         duration(5 * time.Minute),
		},
	}
}

// IsLive reports whether the bot trades with real orders.
func (c *Config) IsLive() bool {
	return c.App.TradingMode == "live"
}

// EnabledWallets returns the tracked wallets with Enabled set.
func (c *Config) EnabledWallets() []TrackedWallet {
	out := make([]TrackedWallet, 0, len(c.Wallets))
	for _, w := range c.Wallets {
		if w.Enabled {
			out = append(out, w)
		}
	}
	return out
}

// AllocationPct returns the configured allocation share for a strategy name.
func (c *Config) AllocationPct(strategy string) float64 {
	switch strategy {
	case "copy_trade":
		return c.Strategies.CopyTrade.AllocationPct
	case "arb":
		return c.Strategies.Arb.AllocationPct
	case "stink_bid":
		return c.Strategies.StinkBid.AllocationPct
	}
	return 0
}

// Validate checks that configuration values are coherent. Live mode
// additionally requires all trading credentials to be present.
func (c *Config) Validate() error {
	if c.App.HTTPPort == "" {
		return fmt.Errorf("app.http_port cannot be empty")
	}

	if c.App.TradingMode != "paper" && c.App.TradingMode != "live" {
		return fmt.Errorf("app.trading_mode must be 'paper' or 'live', got %q", c.App.TradingMode)
	}

	if c.App.DatabasePath == "" {
		return fmt.Errorf("app.database_path cannot be empty")
	}

	u, err := url.Parse(c.Chain.RPCURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss") {
		return fmt.Errorf("chain.rpc_url is not a valid URL: %q", c.Chain.RPCURL)
	}

	total := 0.0
	if c.Strategies.CopyTrade.Enabled {
		total += c.Strategies.CopyTrade.AllocationPct
	}
	if c.Strategies.Arb.Enabled {
		total += c.Strategies.Arb.AllocationPct
	}
	if c.Strategies.StinkBid.Enabled {
		total += c.Strategies.StinkBid.AllocationPct
	}
	if total > 100 {
		return fmt.Errorf("strategy allocations sum to %.1f%%, must be <= 100%%", total)
	}

	if c.Strategies.Arb.Margin <= 0 || c.Strategies.Arb.Margin >= 1 {
		return fmt.Errorf("strategies.arb.margin must be in (0, 1), got %f", c.Strategies.Arb.Margin)
	}

	if c.Strategies.StinkBid.MinDiscount < 0.5 || c.Strategies.StinkBid.MaxDiscount > 0.95 ||
		c.Strategies.StinkBid.MinDiscount > c.Strategies.StinkBid.MaxDiscount {
		return fmt.Errorf("strategies.stink_bid discount range [%.2f, %.2f] is invalid",
			c.Strategies.StinkBid.MinDiscount, c.Strategies.StinkBid.MaxDiscount)
	}

	if c.IsLive() {
		missing := []string{}
		if c.Secrets.WalletPrivateKey.Empty() {
			missing = append(missing, "WALLET_PRIVATE_KEY")
		}
		if c.Secrets.APIKey.Empty() {
			missing = append(missing, "POLYMARKET_API_KEY")
		}
		if c.Secrets.APISecret.Empty() {
			missing = append(missing, "POLYMARKET_SECRET")
		}
		if c.Secrets.APIPassphrase.Empty() {
			missing = append(missing, "POLYMARKET_PASSPHRASE")
		}
		if c.Chain.FunderAddress == "" {
			missing = append(missing, "chain.funder_address")
		}
		if len(missing) > 0 {
			return fmt.Errorf("live trading requires credentials: %v", missing)
		}
	}

	return nil
}
