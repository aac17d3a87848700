package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/whatsgate/golang_services/internal/platform/httpmw"
)

func tokenCmd(a *app) *cobra.Command {
	var subject string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the gateway /admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := httpmw.IssueAdminToken(a.cfg.AdminJWTSecret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
