package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/consolewiz/internal/app"
	"github.com/mark3labs/consolewiz/internal/config"
	"github.com/mark3labs/consolewiz/internal/logger"
	"github.com/spf13/cobra"
)

// loadConfig loads configuration, applies command-line overrides and
// configures the logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if rootFlags.apiURL != "" {
		cfg.APIURL = rootFlags.apiURL
	}
	if rootFlags.natsURL != "" {
		cfg.NATSURL = rootFlags.natsURL
	}
	if rootFlags.dataDir != "" {
		cfg.DataDir = rootFlags.dataDir
	}

	if err := logger.Default.Configure(cfg.LogLevel, cfg.LogFile); err != nil {
		return nil, fmt.Errorf("failed to configure logging: %w", err)
	}
	return cfg, nil
}

// withApp starts an app for the duration of fn. The context passed to fn is
// cancelled on SIGINT or SIGTERM.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(cfg, "")
	if err != nil {
		return err
	}
	defer func() {
		if stopErr := a.Stop(); stopErr != nil {
			logger.Error("Shutdown failed: %v", stopErr)
			if err == nil {
				err = stopErr
			}
		}
	}()

	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	return fn(ctx, a)
}
