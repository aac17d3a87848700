package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/whatsgate/golang_services/internal/platform/cache"
	"github.com/whatsgate/golang_services/internal/tenant_directory/domain"
	"github.com/whatsgate/golang_services/internal/tenant_directory/repository"
)

// PhoneKey and InstanceKey are the two cache keys of a channel.
func PhoneKey(phone string) string { return "phone:" + phone }

func InstanceKey(provider domain.Provider, instanceID string) string {
	return "provider_instance:" + string(provider) + ":" + instanceID
}

// Directory resolves phone numbers and provider instances to tenant channels.
// Postgres is the source of truth; the cache only ever short-circuits reads,
// and any cache failure is treated as a miss.
type Directory struct {
	repo   repository.ChannelRepository
	cache  cache.Store
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

func NewDirectory(repo repository.ChannelRepository, store cache.Store, ttl time.Duration, logger *slog.Logger) *Directory {
	return &Directory{
		repo:   repo,
		cache:  store,
		ttl:    ttl,
		logger: logger.With("component", "tenant_directory"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Register upserts ch and (re)populates both cache keys.
func (d *Directory) Register(ctx context.Context, ch *domain.TenantChannel) (*domain.TenantChannel, error) {
	phone, err := domain.NormalizePhone(ch.PhoneNumber)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidChannel, err)
	}
	ch.PhoneNumber = phone
	if ch.ConnectionStatus == "" {
		ch.ConnectionStatus = domain.StatusConnected
	}
	if err := ch.Validate(); err != nil {
		return nil, err
	}
	if ch.ID == uuid.Nil {
		ch.ID = uuid.New()
	}
	ch.UpdatedAt = d.now()

	previous, err := d.repo.GetByPhone(ctx, phone)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	saved, err := d.repo.Upsert(ctx, ch)
	if err != nil {
		return nil, err
	}

	if previous != nil && (previous.Provider != saved.Provider || previous.ProviderInstanceID != saved.ProviderInstanceID) {
		d.deleteKeys(ctx, InstanceKey(previous.Provider, previous.ProviderInstanceID))
	}
	d.populate(ctx, saved)

	d.logger.InfoContext(ctx, "Tenant channel registered",
		"tenant_id", saved.TenantID, "channel_id", saved.ID, "provider", saved.Provider, "instance_id", saved.ProviderInstanceID)
	return saved, nil
}

// ResolveByPhone never returns a channel whose phone differs from phone.
func (d *Directory) ResolveByPhone(ctx context.Context, phone string) (*domain.TenantChannel, error) {
	normalized, err := domain.NormalizePhone(phone)
	if err != nil {
		return nil, err
	}
	return d.resolve(ctx, "phone", PhoneKey(normalized),
		func(ch *domain.TenantChannel) bool { return ch.PhoneNumber == normalized },
		func() (*domain.TenantChannel, error) { return d.repo.GetByPhone(ctx, normalized) },
	)
}

func (d *Directory) ResolveByProviderInstance(ctx context.Context, provider domain.Provider, instanceID string) (*domain.TenantChannel, error) {
	if instanceID == "" || !provider.Valid() {
		return nil, domain.ErrNotFound
	}
	return d.resolve(ctx, "provider_instance", InstanceKey(provider, instanceID),
		func(ch *domain.TenantChannel) bool {
			return ch.Provider == provider && ch.ProviderInstanceID == instanceID
		},
		func() (*domain.TenantChannel, error) { return d.repo.GetByProviderInstance(ctx, provider, instanceID) },
	)
}

func (d *Directory) resolve(
	ctx context.Context,
	keyType, key string,
	matches func(*domain.TenantChannel) bool,
	load func() (*domain.TenantChannel, error),
) (*domain.TenantChannel, error) {
	if ch := d.fromCache(ctx, key); ch != nil {
		if matches(ch) {
			directoryLookupsTotal.WithLabelValues(keyType, "hit").Inc()
			return ch, nil
		}
		d.logger.WarnContext(ctx, "Discarding cache entry that does not match its key", "key", key, "channel_id", ch.ID)
		d.deleteKeys(ctx, key)
	}

	ch, err := load()
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			directoryLookupsTotal.WithLabelValues(keyType, "not_found").Inc()
			return nil, domain.ErrNotFound
		}
		directoryLookupsTotal.WithLabelValues(keyType, "error").Inc()
		return nil, fmt.Errorf("resolving %s: %w", key, err)
	}
	directoryLookupsTotal.WithLabelValues(keyType, "miss").Inc()
	d.populate(ctx, ch)
	return ch, nil
}

// Invalidate drops the cache entries of every channel owned by tenantID. Cache
// failures are logged only; an error is returned solely when the durable store
// cannot enumerate the tenant's channels.
func (d *Directory) Invalidate(ctx context.Context, tenantID string) error {
	channels, err := d.repo.ListByTenant(ctx, tenantID)
	if err != nil {
		d.logger.ErrorContext(ctx, "Cannot list channels to invalidate", "tenant_id", tenantID, "error", err)
		return fmt.Errorf("listing channels of tenant %s: %w", tenantID, err)
	}

	keys := make([]string, 0, 2*len(channels))
	for _, ch := range channels {
		keys = append(keys, PhoneKey(ch.PhoneNumber), InstanceKey(ch.Provider, ch.ProviderInstanceID))
	}
	d.deleteKeys(ctx, keys...)
	d.logger.InfoContext(ctx, "Tenant directory entries invalidated", "tenant_id", tenantID, "channels", len(channels))
	return nil
}

// UpdateStatus transitions a channel's connection status and refreshes its
// cache entries.
func (d *Directory) UpdateStatus(ctx context.Context, channelID uuid.UUID, status domain.ConnectionStatus) (*domain.TenantChannel, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown connection status %q", domain.ErrInvalidChannel, status)
	}
	ch, err := d.repo.UpdateStatus(ctx, channelID, status, d.now())
	if err != nil {
		return nil, err
	}
	d.populate(ctx, ch)
	return ch, nil
}

// ApplyInstanceStatus records a status reported by the provider for one of its
// instances. Unknown instances are ignored.
func (d *Directory) ApplyInstanceStatus(ctx context.Context, provider domain.Provider, instanceID string, status domain.ConnectionStatus) error {
	ch, err := d.repo.GetByProviderInstance(ctx, provider, instanceID)
	if errors.Is(err, domain.ErrNotFound) {
		d.logger.WarnContext(ctx, "Status reported for unregistered instance", "provider", provider, "instance_id", instanceID)
		return nil
	}
	if err != nil {
		return err
	}
	if ch.ConnectionStatus == status {
		return nil
	}
	_, err = d.UpdateStatus(ctx, ch.ID, status)
	if err == nil {
		d.logger.InfoContext(ctx, "Channel connection status changed",
			"tenant_id", ch.TenantID, "channel_id", ch.ID, "from", ch.ConnectionStatus, "to", status)
	}
	return err
}

func (d *Directory) ListChannels(ctx context.Context) ([]*domain.TenantChannel, error) {
	return d.repo.ListAll(ctx)
}

func (d *Directory) ListTenantChannels(ctx context.Context, tenantID string) ([]*domain.TenantChannel, error) {
	return d.repo.ListByTenant(ctx, tenantID)
}

func (d *Directory) fromCache(ctx context.Context, key string) *domain.TenantChannel {
	raw, err := d.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			d.logger.WarnContext(ctx, "Directory cache read failed, falling back to store", "key", key, "error", err)
		}
		return nil
	}
	var ch domain.TenantChannel
	if err := json.Unmarshal(raw, &ch); err != nil {
		d.logger.WarnContext(ctx, "Corrupt directory cache entry", "key", key, "error", err)
		d.deleteKeys(ctx, key)
		return nil
	}
	return &ch
}

func (d *Directory) populate(ctx context.Context, ch *domain.TenantChannel) {
	raw, err := json.Marshal(ch)
	if err != nil {
		d.logger.ErrorContext(ctx, "Cannot encode channel for cache", "channel_id", ch.ID, "error", err)
		return
	}
	for _, key := range []string{PhoneKey(ch.PhoneNumber), InstanceKey(ch.Provider, ch.ProviderInstanceID)} {
		if err := d.cache.Set(ctx, key, raw, d.ttl); err != nil {
			d.logger.WarnContext(ctx, "Directory cache write failed", "key", key, "error", err)
		}
	}
}

func (d *Directory) deleteKeys(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := d.cache.Delete(ctx, keys...); err != nil {
		d.logger.WarnContext(ctx, "Directory cache delete failed", "keys", keys, "error", err)
	}
}
