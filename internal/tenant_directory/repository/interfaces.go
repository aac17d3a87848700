package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/whatsgate/golang_services/internal/tenant_directory/domain"
)

// ChannelRepository is the durable directory of tenant channels.
type ChannelRepository interface {
	// Upsert inserts or updates the channel keyed by phone number. It returns
	// domain.ErrConflict when the phone is connected for another tenant or the
	// provider instance already belongs to a different phone.
	Upsert(ctx context.Context, ch *domain.TenantChannel) (*domain.TenantChannel, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.TenantChannel, error)
	GetByPhone(ctx context.Context, phone string) (*domain.TenantChannel, error)
	GetByProviderInstance(ctx context.Context, provider domain.Provider, instanceID string) (*domain.TenantChannel, error)
	ListByTenant(ctx context.Context, tenantID string) ([]*domain.TenantChannel, error)
	ListAll(ctx context.Context) ([]*domain.TenantChannel, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.ConnectionStatus, at time.Time) (*domain.TenantChannel, error)
}
