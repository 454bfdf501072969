package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/deusflow/newsrepost/internal/app"
	"github.com/deusflow/newsrepost/internal/config"
	"github.com/deusflow/newsrepost/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:           "newsrepost",
	Short:         "Repost the latest article of a news site to Telegram, VK and a content platform",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.Init()
	},
	RunE: runLoop,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll the source and publish new articles until interrupted",
	RunE:  runLoop,
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single poll-publish cycle and print its outcome",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		loop, cleanup, err := buildLoop(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		outcome := loop.RunCycle(ctx)
		fmt.Fprintln(cmd.OutOrStdout(), outcome)
		if outcome == app.OutcomeFailed {
			return errors.New("cycle failed")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd, onceCmd, transformCmd, ledgerCmd)
}

func runLoop(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	loop, cleanup, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if cfg.EnableHTTPMonitoring {
		go startMonitoringServer(ctx, cfg.MonitoringPort, loop.BudgetStats)
	}

	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Shutting down")
	return nil
}

func buildLoop(ctx context.Context) (*app.Loop, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	return app.Build(ctx, cfg)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("newsrepost failed", "err", err)
		os.Exit(1)
	}
}
