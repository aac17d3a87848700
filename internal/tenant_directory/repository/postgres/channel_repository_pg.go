package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/whatsgate/golang_services/internal/platform/database"
	"github.com/whatsgate/golang_services/internal/tenant_directory/domain"
	"github.com/whatsgate/golang_services/internal/tenant_directory/repository"
)

const channelColumns = `id, tenant_id, phone_number, provider, provider_instance_id, connection_status,
       fallback_provider, fallback_instance_id, fallback_enabled, created_at, updated_at`

type PgChannelRepository struct {
	db     database.DBTX
	logger *slog.Logger
}

func NewPgChannelRepository(db database.DBTX, logger *slog.Logger) repository.ChannelRepository {
	return &PgChannelRepository{db: db, logger: logger.With("component", "channel_repository_pg")}
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func scanChannel(row pgx.Row) (*domain.TenantChannel, error) {
	var ch domain.TenantChannel
	var provider, status string
	var fallbackProvider, fallbackInstance *string

	err := row.Scan(
		&ch.ID, &ch.TenantID, &ch.PhoneNumber, &provider, &ch.ProviderInstanceID, &status,
		&fallbackProvider, &fallbackInstance, &ch.FallbackEnabled, &ch.CreatedAt, &ch.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	ch.Provider = domain.Provider(provider)
	ch.ConnectionStatus = domain.ConnectionStatus(status)
	if fallbackProvider != nil {
		ch.FallbackProvider = domain.Provider(*fallbackProvider)
	}
	if fallbackInstance != nil {
		ch.FallbackInstanceID = *fallbackInstance
	}
	return &ch, nil
}

func (r *PgChannelRepository) Upsert(ctx context.Context, ch *domain.TenantChannel) (*domain.TenantChannel, error) {
	// A phone that is connected for another tenant is never taken over.
	query := `
		INSERT INTO tenant_channels (
			id, tenant_id, phone_number, provider, provider_instance_id, connection_status,
			fallback_provider, fallback_instance_id, fallback_enabled, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (phone_number) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id,
			provider = EXCLUDED.provider,
			provider_instance_id = EXCLUDED.provider_instance_id,
			connection_status = EXCLUDED.connection_status,
			fallback_provider = EXCLUDED.fallback_provider,
			fallback_instance_id = EXCLUDED.fallback_instance_id,
			fallback_enabled = EXCLUDED.fallback_enabled,
			updated_at = EXCLUDED.updated_at
		WHERE tenant_channels.tenant_id = EXCLUDED.tenant_id
		   OR tenant_channels.connection_status <> 'connected'
		RETURNING ` + channelColumns

	row := r.db.QueryRow(ctx, query,
		ch.ID, ch.TenantID, ch.PhoneNumber, string(ch.Provider), ch.ProviderInstanceID, string(ch.ConnectionStatus),
		nullIfEmpty(string(ch.FallbackProvider)), nullIfEmpty(ch.FallbackInstanceID), ch.FallbackEnabled, ch.UpdatedAt,
	)
	saved, err := scanChannel(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.WarnContext(ctx, "Phone number is connected for another tenant", "phone", ch.PhoneNumber, "tenant_id", ch.TenantID)
			return nil, fmt.Errorf("%w: phone %s is connected for another tenant", domain.ErrConflict, ch.PhoneNumber)
		}
		if database.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s instance %s is registered for another phone", domain.ErrConflict, ch.Provider, ch.ProviderInstanceID)
		}
		r.logger.ErrorContext(ctx, "Error upserting tenant channel", "error", err, "phone", ch.PhoneNumber)
		return nil, fmt.Errorf("upserting tenant channel: %w", err)
	}
	return saved, nil
}

func (r *PgChannelRepository) getOne(ctx context.Context, what, where string, args ...any) (*domain.TenantChannel, error) {
	row := r.db.QueryRow(ctx, `SELECT `+channelColumns+` FROM tenant_channels WHERE `+where, args...)
	ch, err := scanChannel(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting tenant channel", "by", what, "error", err)
		return nil, fmt.Errorf("getting tenant channel by %s: %w", what, err)
	}
	return ch, nil
}

func (r *PgChannelRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.TenantChannel, error) {
	return r.getOne(ctx, "id", `id = $1`, id)
}

func (r *PgChannelRepository) GetByPhone(ctx context.Context, phone string) (*domain.TenantChannel, error) {
	return r.getOne(ctx, "phone", `phone_number = $1`, phone)
}

func (r *PgChannelRepository) GetByProviderInstance(ctx context.Context, provider domain.Provider, instanceID string) (*domain.TenantChannel, error) {
	return r.getOne(ctx, "provider instance", `provider = $1 AND provider_instance_id = $2`, string(provider), instanceID)
}

func (r *PgChannelRepository) list(ctx context.Context, query string, args ...any) ([]*domain.TenantChannel, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing tenant channels: %w", err)
	}
	defer rows.Close()

	var out []*domain.TenantChannel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning tenant channel: %w", err)
		}
		out = append(out, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tenant channels: %w", err)
	}
	return out, nil
}

func (r *PgChannelRepository) ListByTenant(ctx context.Context, tenantID string) ([]*domain.TenantChannel, error) {
	return r.list(ctx, `SELECT `+channelColumns+` FROM tenant_channels WHERE tenant_id = $1 ORDER BY created_at`, tenantID)
}

func (r *PgChannelRepository) ListAll(ctx context.Context) ([]*domain.TenantChannel, error) {
	return r.list(ctx, `SELECT `+channelColumns+` FROM tenant_channels ORDER BY created_at`)
}

func (r *PgChannelRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.ConnectionStatus, at time.Time) (*domain.TenantChannel, error) {
	query := `UPDATE tenant_channels SET connection_status = $1, updated_at = $2 WHERE id = $3 RETURNING ` + channelColumns
	ch, err := scanChannel(r.db.QueryRow(ctx, query, string(status), at, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		if database.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %v", domain.ErrConflict, err)
		}
		return nil, fmt.Errorf("updating tenant channel status: %w", err)
	}
	r.logger.InfoContext(ctx, "Tenant channel status updated", "channel_id", id, "status", status)
	return ch, nil
}
