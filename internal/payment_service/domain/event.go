package domain

import (
	"fmt"
	"strings"
	"time"
)

type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomePending   Outcome = "pending"
)

// OutcomeFromStatus maps the status words used by the mobile-money providers.
// Anything unrecognized is treated as pending.
func OutcomeFromStatus(status string) Outcome {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "succeeded", "success", "successful", "completed", "complete", "paid":
		return OutcomeSucceeded
	case "failed", "failure", "cancelled", "canceled", "expired", "rejected":
		return OutcomeFailed
	default:
		return OutcomePending
	}
}

// PaymentEvent is a provider callback normalized by a parser.
type PaymentEvent struct {
	Provider  string  `json:"provider" validate:"required"`
	Reference string  `json:"reference" validate:"required"`
	OrderID   string  `json:"order_id" validate:"required"`
	Outcome   Outcome `json:"outcome" validate:"required,oneof=succeeded failed pending"`
	Amount    int64   `json:"amount" validate:"gte=0"`
	// AmountReported is false when the callback carried no amount at all.
	AmountReported bool      `json:"amount_reported"`
	Currency       string    `json:"currency,omitempty"`
	Method         string    `json:"method,omitempty"`
	CustomerPhone  string    `json:"customer_phone,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Malformed wraps ErrMalformedPayload with provider context.
func Malformed(provider, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformedPayload, provider, fmt.Sprintf(format, args...))
}
