package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mselser95/polymarket-bot/internal/app"
	"github.com/mselser95/polymarket-bot/pkg/config"
)

//nolint:gochecknoglobals // Cobra boilerplate
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the trading bot",
	Long: `Starts the bot: opens the store, restores risk state, connects the
market feed, and runs every enabled strategy until SIGTERM.`,
	RunE: runBot,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&liveMode, "live", false, "Trade with real orders (overrides trading_mode)")
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	application, err := app.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}

	if err := application.Run(); err != nil {
		return fmt.Errorf("run app: %w", err)
	}

	return nil
}

// loadConfigAndLogger applies the CLI overrides on top of the config file.
func loadConfigAndLogger() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	if liveMode {
		cfg.App.TradingMode = "live"
		if err := cfg.Validate(); err != nil {
			return nil, nil, fmt.Errorf("validate live config: %w", err)
		}
	}
	if logLevel != "" {
		cfg.App.LogLevel = logLevel
	}

	logger, err := config.NewLogger(cfg.App.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}

	return cfg, logger, nil
}
