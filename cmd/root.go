// Package cmd holds the scheduler's cobra commands.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/visit-scheduler/internal/config"
	"github.com/JakeFAU/visit-scheduler/internal/logging"
	"github.com/JakeFAU/visit-scheduler/internal/server"
)

// Runner is the application the run command drives.
type Runner interface {
	Run(ctx context.Context) error
}

// newApp is the application factory. It's a variable so tests can replace
// it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Runner, error) {
	return server.NewApp(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "A polite, prioritized visit scheduler for web crawling.",
		Long: `scheduler keeps a per-host visit queue filled from a work source and
drives a pool of workers through fetch, redirect handling and publishing,
never visiting a host more often than its throttle allows.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().String("config", "", "config file (YAML, TOML or JSON)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newNormalizeCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := cmd.Flags().GetString("config")
			if err != nil {
				return fmt.Errorf("read config flag: %w", err)
			}
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.LoggingSettings())
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			app, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize application: %w", err)
			}
			if err := app.Run(cmd.Context()); err != nil {
				logger.Error("scheduler stopped with error", zap.Error(err))
				return fmt.Errorf("run: %w", err)
			}
			return nil
		},
	}
}
