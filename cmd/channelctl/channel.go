package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/whatsgate/golang_services/internal/bootstrap"
	msgapp "github.com/whatsgate/golang_services/internal/messaging_service/app"
	dirapp "github.com/whatsgate/golang_services/internal/tenant_directory/app"
	"github.com/whatsgate/golang_services/internal/tenant_directory/domain"
)

func channelCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channel",
		Short: "Manage tenant channels",
	}
	cmd.AddCommand(channelRegisterCmd(a))
	cmd.AddCommand(channelListCmd(a))
	cmd.AddCommand(channelInvalidateCmd(a))
	cmd.AddCommand(channelStatusCmd(a))
	cmd.AddCommand(channelSyncStatusCmd(a))
	return cmd
}

// withDirectory opens the pool and cache behind a Directory for the duration
// of fn.
func (a *app) withDirectory(ctx context.Context, fn func(*dirapp.Directory) error) error {
	pool, err := a.pool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()
	directory, closeCache := bootstrap.Directory(ctx, a.cfg, pool, a.logger)
	defer closeCache()
	return fn(directory)
}

func channelRegisterCmd(a *app) *cobra.Command {
	var ch domain.TenantChannel
	var provider, fallbackProvider, status string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register or re-point a tenant phone number",
		Long: `Register a phone number for a tenant on a provider instance. Registering a
number that already exists re-points it and refreshes the cache.

Example:
  channelctl channel register --tenant vendor-42 --phone +221770000001 \
    --provider greenapi --instance 1101 --fallback-provider meta --fallback-instance 10987`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ch.Provider = domain.Provider(provider)
			ch.FallbackProvider = domain.Provider(fallbackProvider)
			ch.ConnectionStatus = domain.ConnectionStatus(status)
			ch.FallbackEnabled = ch.FallbackProvider != ""
			return a.withDirectory(cmd.Context(), func(d *dirapp.Directory) error {
				saved, err := d.Register(cmd.Context(), &ch)
				if err != nil {
					return err
				}
				return a.printJSON(saved)
			})
		},
	}
	cmd.Flags().StringVar(&ch.TenantID, "tenant", "", "tenant (vendor) id")
	cmd.Flags().StringVar(&ch.PhoneNumber, "phone", "", "business phone number")
	cmd.Flags().StringVar(&provider, "provider", "", "primary provider (meta, greenapi, legacy)")
	cmd.Flags().StringVar(&ch.ProviderInstanceID, "instance", "", "provider instance id")
	cmd.Flags().StringVar(&status, "status", "", "initial connection status (default connected)")
	cmd.Flags().StringVar(&fallbackProvider, "fallback-provider", "", "secondary provider")
	cmd.Flags().StringVar(&ch.FallbackInstanceID, "fallback-instance", "", "secondary provider instance id")
	for _, f := range []string{"tenant", "phone", "provider", "instance"} {
		_ = cmd.MarkFlagRequired(f)
	}
	cmd.MarkFlagsRequiredTogether("fallback-provider", "fallback-instance")
	return cmd
}

func channelListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list [tenant_id]",
		Short: "List channels, optionally for one tenant",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDirectory(cmd.Context(), func(d *dirapp.Directory) error {
				var (
					channels []*domain.TenantChannel
					err      error
				)
				if len(args) == 1 {
					channels, err = d.ListTenantChannels(cmd.Context(), args[0])
				} else {
					channels, err = d.ListChannels(cmd.Context())
				}
				if err != nil {
					return err
				}
				if channels == nil {
					channels = []*domain.TenantChannel{}
				}
				return a.printJSON(channels)
			})
		},
	}
}

func channelInvalidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate <tenant_id>",
		Short: "Drop every cached route of a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDirectory(cmd.Context(), func(d *dirapp.Directory) error {
				if err := d.Invalidate(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "invalidated cache for tenant %s\n", args[0])
				return nil
			})
		},
	}
}

func channelStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <provider> <instance_id> <connected|disconnected|error>",
		Short: "Record a connection status reported for a provider instance",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, status := domain.Provider(args[0]), domain.ConnectionStatus(args[2])
			if !p.Valid() {
				return fmt.Errorf("unknown provider %q", args[0])
			}
			if !status.Valid() {
				return fmt.Errorf("unknown connection status %q", args[2])
			}
			return a.withDirectory(cmd.Context(), func(d *dirapp.Directory) error {
				return d.ApplyInstanceStatus(cmd.Context(), p, args[1], status)
			})
		},
	}
}

func channelSyncStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-status",
		Short: "Poll every provider once for the state of each channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := bootstrap.ProviderRegistry(a.cfg, a.logger)
			if err != nil {
				return err
			}
			return a.withDirectory(cmd.Context(), func(d *dirapp.Directory) error {
				monitor := msgapp.NewStatusMonitor(d, registry, a.cfg.StatusPollInterval, a.cfg.OutboundTimeout, a.logger)
				changed, err := monitor.PollOnce(cmd.Context())
				if err != nil {
					return err
				}
				a.logger.Info("Status sync finished", slog.Int("changed", changed))
				fmt.Fprintf(a.out, "%d channel(s) changed status\n", changed)
				return nil
			})
		},
	}
}
