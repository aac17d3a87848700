package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/whatsgate/golang_services/internal/messaging_service/domain"
	"github.com/whatsgate/golang_services/internal/messaging_service/provider"
	"github.com/whatsgate/golang_services/internal/messaging_service/repository"
	tdomain "github.com/whatsgate/golang_services/internal/tenant_directory/domain"
)

type SendRequest struct {
	Channel   *tdomain.TenantChannel
	SessionID string
	To        string
	Content   domain.Content
}

// OutboundSender sends through the channel's primary adapter and, when the
// primary fails transiently and both the global flag and the channel allow
// it, exactly once through the channel's fallback route.
type OutboundSender struct {
	registry        *provider.Registry
	deliveries      repository.DeliveryRepository
	fallbackEnabled bool
	timeout         time.Duration
	logger          *slog.Logger
	now             func() time.Time
}

func NewOutboundSender(registry *provider.Registry, deliveries repository.DeliveryRepository, fallbackEnabled bool, timeout time.Duration, logger *slog.Logger) *OutboundSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &OutboundSender{
		registry:        registry,
		deliveries:      deliveries,
		fallbackEnabled: fallbackEnabled,
		timeout:         timeout,
		logger:          logger.With("component", "outbound_sender"),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Send returns the recorded delivery together with the final send error, if
// any. Recording failures are logged only.
func (s *OutboundSender) Send(ctx context.Context, req SendRequest) (*domain.OutboundDelivery, error) {
	ch := req.Channel
	logger := s.logger.With("tenant_id", ch.TenantID, "channel_id", ch.ID, "to", req.To)

	delivery := &domain.OutboundDelivery{
		TenantID:  ch.TenantID,
		SessionID: req.SessionID,
		Recipient: req.To,
		Provider:  string(ch.Provider),
	}

	msgID, err := s.attempt(ctx, ch.Provider, ch.ProviderInstanceID, req)
	if err != nil && domain.IsTransient(err) && s.fallbackEnabled && ch.CanFallback() {
		logger.WarnContext(ctx, "Primary provider failed transiently, trying fallback",
			"provider", ch.Provider, "fallback_provider", ch.FallbackProvider, "error", err)
		delivery.FallbackUsed = true
		delivery.Provider = string(ch.FallbackProvider)
		var fbErr error
		msgID, fbErr = s.attempt(ctx, ch.FallbackProvider, ch.FallbackInstanceID, req)
		if fbErr != nil {
			err = errors.Join(err, fbErr)
		} else {
			err = nil
		}
	}

	delivery.CreatedAt = s.now()
	if err != nil {
		delivery.Status = domain.DeliveryFailed
		delivery.Error = err.Error()
		logger.ErrorContext(ctx, "Outbound delivery failed", "provider", delivery.Provider, "fallback_used", delivery.FallbackUsed, "error", err)
	} else {
		delivery.Status = domain.DeliverySent
		delivery.ProviderMessageID = msgID
	}
	outboundDeliveriesTotal.WithLabelValues(delivery.Provider, string(delivery.Status), boolLabel(delivery.FallbackUsed)).Inc()

	if recErr := s.deliveries.Record(ctx, delivery); recErr != nil {
		logger.WarnContext(ctx, "Failed to record outbound delivery", "error", recErr)
	}
	return delivery, err
}

func (s *OutboundSender) attempt(ctx context.Context, p tdomain.Provider, instanceID string, req SendRequest) (string, error) {
	adapter, err := s.registry.Get(p)
	if err != nil {
		return "", err
	}
	sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return adapter.Send(sendCtx, instanceID, req.To, req.Content)
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
