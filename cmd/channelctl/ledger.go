package main

import (
	"github.com/spf13/cobra"

	"github.com/whatsgate/golang_services/internal/bootstrap"
	"github.com/whatsgate/golang_services/internal/webhook_ledger/domain"
)

func ledgerCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the webhook idempotency ledger",
	}
	cmd.AddCommand(ledgerFailedCmd(a))
	cmd.AddCommand(ledgerGetCmd(a))
	return cmd
}

func ledgerFailedCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "failed",
		Short: "List failed webhook records, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := a.pool(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			records, err := bootstrap.Ledger(a.cfg, pool, a.logger).ListFailed(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if records == nil {
				records = []*domain.WebhookRecord{}
			}
			return a.printJSON(records)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "maximum records")
	return cmd
}

func ledgerGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <provider> <reference>",
		Short: "Show the ledger record of one provider event",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := a.pool(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			record, err := bootstrap.Ledger(a.cfg, pool, a.logger).Get(cmd.Context(), domain.Key(args[0], args[1]))
			if err != nil {
				return err
			}
			return a.printJSON(record)
		},
	}
}
