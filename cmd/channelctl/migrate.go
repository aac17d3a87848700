package main

import (
	"github.com/spf13/cobra"

	"github.com/whatsgate/golang_services/internal/platform/database"
)

func migrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate [up|down]",
		Short: "Apply the embedded schema, or roll back one step",
		Long: `Apply the embedded schema migrations to POSTGRES_DSN.

Examples:
  channelctl migrate up
  channelctl migrate down`,
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return database.Migrate(a.cfg.PostgresDSN, args[0], a.logger)
		},
	}
}
