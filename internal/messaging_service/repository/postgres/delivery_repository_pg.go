package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/whatsgate/golang_services/internal/messaging_service/domain"
	"github.com/whatsgate/golang_services/internal/messaging_service/repository"
	"github.com/whatsgate/golang_services/internal/platform/database"
)

type PgDeliveryRepository struct {
	db     database.DBTX
	logger *slog.Logger
}

func NewPgDeliveryRepository(db database.DBTX, logger *slog.Logger) repository.DeliveryRepository {
	return &PgDeliveryRepository{db: db, logger: logger.With("component", "delivery_repository_pg")}
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *PgDeliveryRepository) Record(ctx context.Context, d *domain.OutboundDelivery) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	query := `
		INSERT INTO outbound_deliveries (id, tenant_id, session_id, recipient, provider, provider_message_id,
			status, fallback_used, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.db.Exec(ctx, query, d.ID, d.TenantID, d.SessionID, d.Recipient, d.Provider,
		nullIfEmpty(d.ProviderMessageID), string(d.Status), d.FallbackUsed, nullIfEmpty(d.Error), d.CreatedAt)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error recording outbound delivery", "error", err, "tenant_id", d.TenantID)
		return fmt.Errorf("recording outbound delivery: %w", err)
	}
	return nil
}
