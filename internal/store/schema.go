package store

const schemaDDL = `
CREATE TABLE IF NOT EXISTS orders (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	exchange_order_id TEXT UNIQUE,
	signal_id TEXT NOT NULL,
	strategy TEXT NOT NULL,
	market_id TEXT NOT NULL,
	token_id TEXT NOT NULL,
	side TEXT NOT NULL,
	size_shares REAL NOT NULL,
	price REAL NOT NULL,
	type TEXT NOT NULL DEFAULT 'GTC',
	status TEXT NOT NULL DEFAULT 'pending',
	filled_shares REAL NOT NULL DEFAULT 0,
	avg_fill_price REAL NOT NULL DEFAULT 0,
	fee_paid REAL NOT NULL DEFAULT 0,
	reject_reason TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	market_id TEXT NOT NULL,
	token_id TEXT NOT NULL,
	outcome TEXT NOT NULL DEFAULT '',
	side TEXT NOT NULL,
	entry_price REAL NOT NULL,
	shares REAL NOT NULL,
	entry_shares REAL NOT NULL,
	entry_fee REAL NOT NULL DEFAULT 0,
	exit_fee REAL NOT NULL DEFAULT 0,
	realized_pnl REAL NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'open',
	strategy TEXT NOT NULL,
	source_wallet TEXT,
	tp_levels TEXT,
	sl_price REAL NOT NULL DEFAULT 0,
	trail_pct REAL NOT NULL DEFAULT 0,
	trail_anchor REAL NOT NULL DEFAULT 0,
	current_price REAL NOT NULL DEFAULT 0,
	close_reason TEXT,
	opened_at TEXT NOT NULL,
	closed_at TEXT
);

-- Append-only execution log. Re-delivery of the same exchange trade ID must
-- not alter history, hence the UNIQUE constraint paired with INSERT OR IGNORE.
CREATE TABLE IF NOT EXISTS trade_fills (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	exchange_trade_id TEXT NOT NULL UNIQUE,
	exchange_order_id TEXT NOT NULL,
	market_id TEXT NOT NULL,
	token_id TEXT NOT NULL,
	side TEXT NOT NULL,
	price REAL NOT NULL,
	shares REAL NOT NULL,
	fee REAL NOT NULL DEFAULT 0,
	ts TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS whale_positions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	wallet_address TEXT NOT NULL,
	market_id TEXT NOT NULL,
	token_id TEXT NOT NULL,
	shares REAL NOT NULL,
	avg_price REAL NOT NULL DEFAULT 0,
	last_seen_at TEXT NOT NULL,
	UNIQUE(wallet_address, market_id, token_id)
);

CREATE TABLE IF NOT EXISTS stink_orders (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	market_id TEXT NOT NULL,
	token_id TEXT NOT NULL,
	exchange_order_id TEXT NOT NULL,
	price REAL NOT NULL,
	size_usd REAL NOT NULL,
	placed_at TEXT NOT NULL,
	UNIQUE(market_id, token_id)
);

CREATE TABLE IF NOT EXISTS daily_pnl (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	date TEXT NOT NULL UNIQUE,
	starting_balance REAL NOT NULL,
	ending_balance REAL,
	realized_pnl REAL NOT NULL DEFAULT 0,
	unrealized_pnl REAL NOT NULL DEFAULT 0,
	trades_count INTEGER NOT NULL DEFAULT 0,
	wins INTEGER NOT NULL DEFAULT 0,
	losses INTEGER NOT NULL DEFAULT 0,
	fees_paid REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS risk_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	reason TEXT NOT NULL,
	detail TEXT,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS bot_metadata (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
CREATE INDEX IF NOT EXISTS idx_orders_market ON orders(market_id);
CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);
CREATE INDEX IF NOT EXISTS idx_positions_strategy ON positions(strategy);
CREATE INDEX IF NOT EXISTS idx_positions_token ON positions(token_id);
CREATE INDEX IF NOT EXISTS idx_fills_order ON trade_fills(exchange_order_id);
CREATE INDEX IF NOT EXISTS idx_whale_wallet ON whale_positions(wallet_address);
`
