package repository

import (
	"context"
	"time"

	"github.com/whatsgate/golang_services/internal/messaging_service/domain"
)

// ConversationRepository persists ConversationContext rows. Touch is the only
// write on the inbound path and must be a single atomic upsert.
type ConversationRepository interface {
	Touch(ctx context.Context, tenantID, phone string, at time.Time) (*domain.ConversationContext, error)
	Get(ctx context.Context, sessionID string) (*domain.ConversationContext, error)
	UpdateIntent(ctx context.Context, sessionID string, intent domain.Intent, step string) error
	SetStatus(ctx context.Context, sessionID string, status domain.ConversationStatus) error
}

type DeliveryRepository interface {
	Record(ctx context.Context, d *domain.OutboundDelivery) error
}
