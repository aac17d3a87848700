package domain

import (
	"time"

	tdomain "github.com/whatsgate/golang_services/internal/tenant_directory/domain"
)

// InboundMessage is a provider webhook normalized by its adapter.
type InboundMessage struct {
	Provider        tdomain.Provider `json:"provider" validate:"required"`
	InstanceID      string           `json:"instance_id" validate:"required"`
	From            string           `json:"from" validate:"required"`
	To              string           `json:"to"`
	SenderName      string           `json:"sender_name,omitempty"`
	Content         Content          `json:"content"`
	ProviderEventID string           `json:"provider_event_id" validate:"required"`
	OccurredAt      time.Time        `json:"occurred_at" validate:"required"`
}

// StatusChange is a connection status pushed by a provider webhook.
type StatusChange struct {
	Provider   tdomain.Provider
	InstanceID string
	Status     tdomain.ConnectionStatus
	Raw        string
}

// InboundEnvelope carries a verified raw webhook from the HTTP intake to the
// orchestrator, in-process or over NATS.
type InboundEnvelope struct {
	Provider   tdomain.Provider `json:"provider"`
	InstanceID string           `json:"instance_id"`
	// TenantID is set when the webhook came in on a tenant-scoped route.
	TenantID   string    `json:"tenant_id,omitempty"`
	Body       []byte    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
	RequestID  string    `json:"request_id,omitempty"`
}
