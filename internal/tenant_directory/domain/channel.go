package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("tenant channel not found")
	ErrConflict       = errors.New("tenant channel conflicts with an existing channel")
	ErrInvalidChannel = errors.New("invalid tenant channel")
)

// Provider identifies a messaging provider.
type Provider string

const (
	ProviderMeta     Provider = "meta"
	ProviderGreenAPI Provider = "greenapi"
	ProviderLegacy   Provider = "legacy"
)

func (p Provider) Valid() bool {
	switch p {
	case ProviderMeta, ProviderGreenAPI, ProviderLegacy:
		return true
	}
	return false
}

type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusError        ConnectionStatus = "error"
)

func (s ConnectionStatus) Valid() bool {
	switch s {
	case StatusConnected, StatusDisconnected, StatusError:
		return true
	}
	return false
}

// TenantChannel is one phone number connected to one provider on behalf of
// one tenant. Channels are never deleted, only status-transitioned.
type TenantChannel struct {
	ID                 uuid.UUID        `json:"id"`
	TenantID           string           `json:"tenant_id"`
	PhoneNumber        string           `json:"phone_number"`
	Provider           Provider         `json:"provider"`
	ProviderInstanceID string           `json:"provider_instance_id"`
	ConnectionStatus   ConnectionStatus `json:"connection_status"`

	// Secondary route used once when the primary send fails transiently.
	FallbackProvider   Provider `json:"fallback_provider,omitempty"`
	FallbackInstanceID string   `json:"fallback_instance_id,omitempty"`
	FallbackEnabled    bool     `json:"fallback_enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanFallback reports whether the tenant allows a secondary route.
func (c *TenantChannel) CanFallback() bool {
	return c.FallbackEnabled && c.FallbackProvider.Valid() && c.FallbackInstanceID != ""
}

func (c *TenantChannel) IsConnected() bool {
	return c.ConnectionStatus == StatusConnected
}

// Validate checks the fields Register relies on. PhoneNumber must already be
// normalized.
func (c *TenantChannel) Validate() error {
	switch {
	case c.TenantID == "":
		return fmt.Errorf("%w: tenant_id is required", ErrInvalidChannel)
	case !c.Provider.Valid():
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidChannel, c.Provider)
	case c.ProviderInstanceID == "":
		return fmt.Errorf("%w: provider_instance_id is required", ErrInvalidChannel)
	case !c.ConnectionStatus.Valid():
		return fmt.Errorf("%w: unknown connection status %q", ErrInvalidChannel, c.ConnectionStatus)
	case c.FallbackProvider != "" && !c.FallbackProvider.Valid():
		return fmt.Errorf("%w: unknown fallback provider %q", ErrInvalidChannel, c.FallbackProvider)
	case c.FallbackProvider == c.Provider && c.FallbackInstanceID == c.ProviderInstanceID:
		return fmt.Errorf("%w: fallback route equals primary route", ErrInvalidChannel)
	}
	if _, err := NormalizePhone(c.PhoneNumber); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidChannel, err)
	}
	return nil
}
