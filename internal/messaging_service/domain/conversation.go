package domain

import (
	"time"
)

type ConversationStatus string

const (
	ConversationActive ConversationStatus = "active"
	ConversationPaused ConversationStatus = "paused"
	ConversationClosed ConversationStatus = "closed"
)

// ConversationContext is the per (tenant, counterpart phone) session.
type ConversationContext struct {
	SessionID        string             `json:"session_id"`
	TenantID         string             `json:"tenant_id"`
	CounterpartPhone string             `json:"counterpart_phone"`
	LastMessageAt    time.Time          `json:"last_message_at"`
	MessageCount     int64              `json:"message_count"`
	CurrentIntent    Intent             `json:"current_intent,omitempty"`
	CurrentStep      string             `json:"current_step,omitempty"`
	Status           ConversationStatus `json:"status"`
}

func SessionID(tenantID, phone string) string {
	return tenantID + ":" + phone
}

type Intent string

const (
	IntentUnknown     Intent = "unknown"
	IntentGreeting    Intent = "greeting"
	IntentOrderStatus Intent = "order_status"
	IntentPayment     Intent = "payment"
	IntentCatalog     Intent = "catalog"
	IntentHumanAgent  Intent = "human_agent"
	IntentComplaint   Intent = "complaint"
	IntentConfirm     Intent = "confirm"
)

// RequiresEscalation reports whether a human must be notified.
func (i Intent) RequiresEscalation() bool {
	return i == IntentHumanAgent || i == IntentComplaint
}

type DeliveryStatus string

const (
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
)

// OutboundDelivery records the final outcome of one outbound send.
type OutboundDelivery struct {
	ID                string
	TenantID          string
	SessionID         string
	Recipient         string
	Provider          string
	ProviderMessageID string
	Status            DeliveryStatus
	FallbackUsed      bool
	Error             string
	CreatedAt         time.Time
}
