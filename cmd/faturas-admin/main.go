package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/boddenberg/faturas-core/internal/config"
	"github.com/boddenberg/faturas-core/internal/infra/observability"
)

var (
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "faturas-admin",
	Short: "Administrative commands for the faturas core",
	Long: `faturas-admin runs the core's maintenance jobs on demand.

Configuration is read from the same environment variables (and .env file)
as the faturas daemon: DB_DRIVER, DATABASE_URL, AMQP_URL, TENANTS and so on.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = config.LoadDotEnv(".env")
		cfg = config.Load()
		logger = observability.NewLogger(cfg.LogLevel)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringSlice("tenant", nil, "Tenant to run for (repeatable; default: TENANTS or every tenant in the database)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
