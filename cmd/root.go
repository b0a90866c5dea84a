// Package cmd defines and implements the CLI commands for the pypiharvest executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pypi-harvest/internal/app"
	"github.com/JakeFAU/pypi-harvest/internal/config"
	"github.com/JakeFAU/pypi-harvest/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newLogger is swapped in tests to silence output.
var newLogger = logging.New

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "pypiharvest",
		Short: "Harvests PyPI package metadata and keeps the dataset clean.",
		Long: `pypiharvest collects metadata for every package on PyPI from the
libraries.io API and the pypi.org project pages into a CSV store, validates
that stored packages still exist, repairs rows that break the schema, and
loads or publishes the finished store.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Builds the application once flags are parsed and injects it for subcommands.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Logging.Development)
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := app.New(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return nil
			}
			closeErr := appInstance.Close()
			return errors.Join(closeErr, logging.Sync(appInstance.Logger()))
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")

	cmd.AddCommand(
		newHarvestCmd(),
		newValidateCmd(),
		newAuditCmd(),
		newLoadCmd(),
		newPublishCmd(),
		newPopularCmd(),
	)
	return cmd
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the running command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		zap.L().Error("Command execution failed", zap.Error(err))
		_ = logging.Sync(zap.L())
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// finished logs how long a command took.
func finished(logger *zap.Logger, command string, start time.Time, err error) {
	fields := []zap.Field{zap.String("command", command), zap.Duration("took", time.Since(start))}
	if err != nil {
		logger.Warn("command ended with error", append(fields, zap.Error(err))...)
		return
	}
	logger.Info("command finished", fields...)
}
