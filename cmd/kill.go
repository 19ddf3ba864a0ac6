package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mselser95/polymarket-bot/internal/store"
	"github.com/mselser95/polymarket-bot/pkg/types"
)

//nolint:gochecknoglobals // Cobra boilerplate
var killCmd = &cobra.Command{
	Use:   "kill",
	Short: "Activate the kill switch unconditionally",
	Long: `Persists an active kill switch, in paper mode too. A running bot
re-reads the state and halts; a stopped bot starts halted. Only an explicit
'kill --clear' resumes trading.`,
	RunE: killSwitch,
}

//nolint:gochecknoglobals // Cobra boilerplate
var clearKill bool

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(killCmd)
	killCmd.Flags().BoolVar(&clearKill, "clear", false, "Deactivate the kill switch instead")
}

func killSwitch(cmd *cobra.Command, args []string) error {
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

	out := cmd.OutOrStdout()
	if clearKill {
		if err := s.SaveRiskState(ctx, &types.RiskState{}); err != nil {
			return fmt.Errorf("clear kill switch: %w", err)
		}
		fmt.Fprintln(out, "Kill switch cleared.")
		return nil
	}

	state := &types.RiskState{
		KillSwitchActive: true,
		ActivatedAt:      time.Now(),
		Reason:           "cli",
	}
	if err := s.SaveRiskState(ctx, state); err != nil {
		return fmt.Errorf("activate kill switch: %w", err)
	}
	if err := s.RecordRiskEvent(ctx, "kill_switch_activated", "cli", ""); err != nil {
		return fmt.Errorf("record risk event: %w", err)
	}

	fmt.Fprintln(out, "Kill switch activated. A running bot will halt; restarts stay halted until cleared.")
	return nil
}
