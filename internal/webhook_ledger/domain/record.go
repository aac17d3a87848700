package domain

import (
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("webhook record not found")
	ErrInvalidTransition = errors.New("invalid webhook record state transition")
	ErrSuperseded        = errors.New("webhook record taken over by a later attempt")
	ErrInvalidKey        = errors.New("provider and reference are required")
)

type State string

const (
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// WebhookRecord is one ledger entry per (provider, reference).
type WebhookRecord struct {
	IdempotencyKey string     `json:"idempotency_key"`
	Provider       string     `json:"provider"`
	Reference      string     `json:"reference"`
	SubjectID      string     `json:"subject_id"`
	State          State      `json:"state"`
	ReceivedAt     time.Time  `json:"received_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Error          string     `json:"error,omitempty"`
	AttemptCount   int        `json:"attempt_count"`
}

// Key is the idempotency key of (provider, reference).
func Key(provider, reference string) string {
	return provider + "_" + reference
}

// Outcome is the result of Ledger.Begin.
type Outcome int

const (
	// Started: the caller owns the event and must call Complete or Fail.
	Started Outcome = iota
	AlreadyCompleted
	AlreadyProcessing
	// RetryDeferred: the last attempt failed too recently to retry.
	RetryDeferred
)

func (o Outcome) String() string {
	switch o {
	case Started:
		return "started"
	case AlreadyCompleted:
		return "already_completed"
	case AlreadyProcessing:
		return "already_processing"
	case RetryDeferred:
		return "retry_deferred"
	default:
		return "unknown"
	}
}

// IsDuplicate reports whether the delivery must be acknowledged without any
// further processing.
func (o Outcome) IsDuplicate() bool {
	return o == AlreadyCompleted || o == AlreadyProcessing
}

type BeginResult struct {
	Outcome Outcome
	Key     string
	// Attempt is the attempt number owned by the caller when Started, and the
	// last recorded attempt otherwise.
	Attempt int
	// RetryAfter is set for RetryDeferred.
	RetryAfter time.Duration
}
