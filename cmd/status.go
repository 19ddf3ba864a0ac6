package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mselser95/polymarket-bot/internal/store"
)

//nolint:gochecknoglobals // Cobra boilerplate
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print bot state from the store and exit",
	Long: `Reads the persistent store directly: kill-switch state, open
positions, today's realized P&L. Works whether or not the bot is running.`,
	RunE: showStatus,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(statusCmd)
}

func showStatus(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	s, err := store.Open(&store.Config{Path: cfg.App.DatabasePath, Logger: logger})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	state, err := s.LoadRiskState(ctx)
	if err != nil {
		return fmt.Errorf("load risk state: %w", err)
	}

	positions, err := s.OpenPositions(ctx, "")
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}

	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	realized, err := s.RealizedPnLSince(ctx, midnight)
	if err != nil {
		return fmt.Errorf("load realized pnl: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Trading mode: %s\n", cfg.App.TradingMode)
	if state.KillSwitchActive {
		fmt.Fprintf(out, "HALTED since %s: %s\n",
			state.ActivatedAt.UTC().Format(time.RFC3339), state.Reason)
	} else {
		fmt.Fprintln(out, "Kill switch: inactive")
	}
	fmt.Fprintf(out, "Open positions: %d\n", len(positions))
	for _, p := range positions {
		fmt.Fprintf(out, "  #%d %s %s %s: %.2f shares @ %.4f (%s)\n",
			p.ID, p.Strategy, p.MarketID, p.Outcome, p.Shares, p.EntryPrice, p.Status)
	}
	fmt.Fprintf(out, "Realized P&L today: $%+.2f\n", realized)

	return nil
}
