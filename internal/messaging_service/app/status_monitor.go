package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/whatsgate/golang_services/internal/messaging_service/provider"
	tdomain "github.com/whatsgate/golang_services/internal/tenant_directory/domain"
)

type ChannelStatusStore interface {
	ListChannels(ctx context.Context) ([]*tdomain.TenantChannel, error)
	UpdateStatus(ctx context.Context, channelID uuid.UUID, status tdomain.ConnectionStatus) (*tdomain.TenantChannel, error)
}

// StatusMonitor periodically asks each provider for the connection state of
// every registered channel and records changes.
type StatusMonitor struct {
	channels ChannelStatusStore
	registry *provider.Registry
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

func NewStatusMonitor(channels ChannelStatusStore, registry *provider.Registry, interval, timeout time.Duration, logger *slog.Logger) *StatusMonitor {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &StatusMonitor{
		channels: channels,
		registry: registry,
		interval: interval,
		timeout:  timeout,
		logger:   logger.With("component", "status_monitor"),
	}
}

func (m *StatusMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.logger.InfoContext(ctx, "Status monitor started", "interval", m.interval)
	for {
		select {
		case <-ctx.Done():
			m.logger.InfoContext(ctx, "Status monitor stopped")
			return nil
		case <-ticker.C:
			if _, err := m.PollOnce(ctx); err != nil {
				m.logger.ErrorContext(ctx, "Status poll failed", "error", err)
			}
		}
	}
}

// PollOnce checks every channel once and returns how many changed. Channels
// whose provider cannot be reached keep their last known status.
func (m *StatusMonitor) PollOnce(ctx context.Context) (int, error) {
	channels, err := m.channels.ListChannels(ctx)
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, ch := range channels {
		if ctx.Err() != nil {
			return changed, ctx.Err()
		}
		logger := m.logger.With("channel_id", ch.ID, "tenant_id", ch.TenantID, "provider", ch.Provider)
		adapter, err := m.registry.Get(ch.Provider)
		if err != nil {
			logger.WarnContext(ctx, "No adapter for channel provider")
			continue
		}

		pctx, cancel := context.WithTimeout(ctx, m.timeout)
		status, err := adapter.InstanceStatus(pctx, ch.ProviderInstanceID)
		cancel()
		if err != nil {
			logger.WarnContext(ctx, "Instance status unavailable", "error", err)
			continue
		}
		if status == ch.ConnectionStatus {
			continue
		}
		if _, err := m.channels.UpdateStatus(ctx, ch.ID, status); err != nil {
			logger.ErrorContext(ctx, "Failed to update channel status", "status", status, "error", err)
			continue
		}
		channelStatusChangesTotal.WithLabelValues(string(ch.Provider), string(status)).Inc()
		logger.InfoContext(ctx, "Channel connection status changed", "from", ch.ConnectionStatus, "to", status)
		changed++
	}
	return changed, nil
}
