package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var (
	configPath string
	logLevel   string
	liveMode   bool
)

//nolint:gochecknoglobals // Cobra boilerplate
var rootCmd = &cobra.Command{
	Use:   "polybot",
	Short: "Automated prediction-market trading bot",
	Long: `Automated trading bot for binary prediction markets.

Runs several concurrent strategies (whale copy trading, parity arbitrage,
stink bids) behind a single risk-checked execution pipeline, with
take-profit / stop-loss / trailing-stop position management and a
persistent kill switch.`,
	RunE: runBot, // running with no subcommand starts the bot
}

// Execute runs the CLI. A startup failure exits non-zero.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "polybot.toml", "Path to the TOML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	rootCmd.Flags().BoolVar(&liveMode, "live", false, "Trade with real orders (overrides trading_mode)")
}
