package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "polybot.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, "paper", cfg.App.TradingMode)
	assert.Equal(t, "8080", cfg.App.HTTPPort)
	assert.Equal(t, 60, cfg.RateLimit.OpsPerMinute)
	assert.Equal(t, defaultUSDCAddress, cfg.Chain.USDCAddress)
	assert.Equal(t, 10*time.Second, cfg.Risk.SnapshotStaleAfter.Std())
	assert.InDelta(t, 0.05, cfg.Strategies.Arb.Margin, 1e-9)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, "paper", cfg.App.TradingMode)
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
[app]
log_level = "debug"
trading_mode = "paper"

[risk]
max_position_pct = 5.0
snapshot_stale_after = "30s"

[strategies.copy_trade]
enabled = true
allocation_pct = 40.0
poll_interval = "2m"

[[wallets]]
address = "0xwhale1"
name = "whale-one"
max_allocation_usd = 300.0
enabled = true

[[wallets]]
address = "0xwhale2"
name = "whale-two"
enabled = false
`))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.InDelta(t, 5.0, cfg.Risk.MaxPositionPct, 1e-9)
	assert.Equal(t, 30*time.Second, cfg.Risk.SnapshotStaleAfter.Std())
	assert.Equal(t, 2*time.Minute, cfg.Strategies.CopyTrade.PollInterval.Std())
	assert.InDelta(t, 40.0, cfg.AllocationPct("copy_trade"), 1e-9)

	enabled := cfg.EnabledWallets()
	require.Len(t, enabled, 1)
	assert.Equal(t, "whale-one", enabled[0].Name)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		errSub string
	}{
		{
			name:   "bad-trading-mode",
			body:   "[app]\ntrading_mode = \"dry-run\"\n",
			errSub: "trading_mode",
		},
		{
			name:   "bad-rpc-url",
			body:   "[chain]\nrpc_url = \"not a url\"\n",
			errSub: "rpc_url",
		},
		{
			name: "allocations-over-100",
			body: `
[strategies.copy_trade]
enabled = true
allocation_pct = 60.0
[strategies.arb]
enabled = true
allocation_pct = 50.0
`,
			errSub: "allocations",
		},
		{
			name:   "bad-arb-margin",
			body:   "[strategies.arb]\nmargin = 1.5\n",
			errSub: "margin",
		},
		{
			name:   "bad-stink-discounts",
			body:   "[strategies.stink_bid]\nmin_discount = 0.9\nmax_discount = 0.7\n",
			errSub: "discount",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSub)
		})
	}
}

func TestValidate_LiveRequiresCredentials(t *testing.T) {
	t.Setenv("POLYMARKET_API_KEY", "")
	t.Setenv("POLYMARKET_SECRET", "")
	t.Setenv("POLYMARKET_PASSPHRASE", "")
	t.Setenv("WALLET_PRIVATE_KEY", "")

	_, err := Load(writeConfig(t, "[app]\ntrading_mode = \"live\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credentials")
}

func TestLoad_SecretsFromEnv(t *testing.T) {
	t.Setenv("POLYMARKET_API_KEY", "key-123")
	t.Setenv("WALLET_PRIVATE_KEY", "0xdeadbeef")

	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, "key-123", cfg.Secrets.APIKey.Reveal())
	assert.Equal(t, "0xdeadbeef", cfg.Secrets.WalletPrivateKey.Reveal())
}

func TestSecret_Redaction(t *testing.T) {
	t.Parallel()

	s := Secret("super-secret-value")

	assert.Equal(t, redacted, s.String())
	assert.Equal(t, redacted, fmt.Sprintf("%v", s))
	assert.Equal(t, redacted, fmt.Sprintf("%s", s))
	assert.NotContains(t, fmt.Sprintf("%#v", s), "super-secret-value")

	out, err := json.Marshal(struct {
		Key Secret `json:"key"`
	}{Key: s})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "super-secret-value")
	assert.Contains(t, string(out), redacted)

	assert.Equal(t, "super-secret-value", s.Reveal())
	assert.True(t, Secret("").Empty())
	assert.Equal(t, "", Secret("").String())
}
