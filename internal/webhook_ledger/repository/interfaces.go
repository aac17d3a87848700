package repository

import (
	"context"
	"time"

	"github.com/whatsgate/golang_services/internal/webhook_ledger/domain"
)

// LedgerRepository exposes only check-and-set primitives; callers never
// read-then-write a record.
type LedgerRepository interface {
	// Insert creates rec in processing state unless the key exists. It
	// reports whether this call created the record.
	Insert(ctx context.Context, rec *domain.WebhookRecord) (bool, error)
	Get(ctx context.Context, key string) (*domain.WebhookRecord, error)
	// Takeover moves a record observed as (state, attempts) back to
	// processing with attempts+1. It reports false if the record changed since
	// it was observed.
	Takeover(ctx context.Context, key string, observed domain.State, observedAttempts int, now time.Time) (*domain.WebhookRecord, bool, error)
	// MarkCompleted and MarkFailed only transition records still in
	// processing under the given attempt.
	MarkCompleted(ctx context.Context, key string, attempt int, now time.Time) (bool, error)
	MarkFailed(ctx context.Context, key string, attempt int, reason string, now time.Time) (bool, error)
	ListFailed(ctx context.Context, limit int) ([]*domain.WebhookRecord, error)
}
