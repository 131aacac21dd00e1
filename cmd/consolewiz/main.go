package main

import (
	"context"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/mark3labs/consolewiz/internal/logger"
	"github.com/spf13/cobra"
)

// Version set via ldflags during build
var version = "dev"

func main() {
	defer func() { _ = logger.Close() }()

	if err := fang.Execute(context.Background(), rootCmd, fang.WithVersion(version)); err != nil {
		logger.Error("Command execution failed: %v", err)
		os.Exit(1)
	}
}

var rootFlags struct {
	apiURL  string
	natsURL string
	dataDir string
}

var rootCmd = &cobra.Command{
	Use:   "consolewiz",
	Short: "Headless wizard runner and task waiter for the storage admin API",
	Long: `consolewiz drives multi-step wizards against the storage backend's REST
API and waits for the asynchronous tasks they start.

Task outcomes arrive as task-complete events over NATS (an embedded server is
started when no nats_url is configured), are recorded in a JetStream event log,
and can be looked up on the backend when a notification only carries the id.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootFlags.apiURL, "api-url", "", "Backend API base URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&rootFlags.natsURL, "nats-url", "", "NATS server URL (overrides config, empty runs embedded)")
	rootCmd.PersistentFlags().StringVar(&rootFlags.dataDir, "data-dir", "", "Data directory for embedded NATS storage (overrides config)")

	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(waitCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(tasksCmd)
}
