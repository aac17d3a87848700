package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/whatsgate/golang_services/internal/platform/config"
	"github.com/whatsgate/golang_services/internal/platform/database"
	"github.com/whatsgate/golang_services/internal/platform/logger"
)

const serviceName = "channelctl"

var Version = "dev"

// app carries what every subcommand needs once the root command has loaded
// the configuration.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	out    io.Writer
}

func (a *app) pool(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := database.NewDBPool(ctx, a.cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	return pool, nil
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}
	var logLevel string

	rootCmd := &cobra.Command{
		Use:           "channelctl",
		Short:         "Operator tool for tenant channels, migrations and the webhook ledger",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(serviceName)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			a.cfg = cfg
			a.logger = logger.NewWithWriter(os.Stderr, cfg.LogLevel, "text").With("service", serviceName)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")

	rootCmd.AddCommand(migrateCmd(a))
	rootCmd.AddCommand(channelCmd(a))
	rootCmd.AddCommand(ledgerCmd(a))
	rootCmd.AddCommand(paymentCmd(a))
	rootCmd.AddCommand(tokenCmd(a))
	return rootCmd
}
