// Package memory is an in-process LedgerRepository with the same
// check-and-set semantics as the Postgres one, used by tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/whatsgate/golang_services/internal/webhook_ledger/domain"
	"github.com/whatsgate/golang_services/internal/webhook_ledger/repository"
)

type LedgerRepository struct {
	mu      sync.Mutex
	records map[string]domain.WebhookRecord
}

func NewLedgerRepository() *LedgerRepository {
	return &LedgerRepository{records: make(map[string]domain.WebhookRecord)}
}

var _ repository.LedgerRepository = (*LedgerRepository)(nil)

func (r *LedgerRepository) Insert(_ context.Context, rec *domain.WebhookRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[rec.IdempotencyKey]; exists {
		return false, nil
	}
	r.records[rec.IdempotencyKey] = *rec
	return true, nil
}

func (r *LedgerRepository) Get(_ context.Context, key string) (*domain.WebhookRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &rec, nil
}

func (r *LedgerRepository) Takeover(_ context.Context, key string, observed domain.State, observedAttempts int, now time.Time) (*domain.WebhookRecord, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key]
	if !ok || rec.State != observed || rec.AttemptCount != observedAttempts {
		return nil, false, nil
	}
	rec.State = domain.StateProcessing
	rec.AttemptCount++
	rec.ReceivedAt = now
	rec.UpdatedAt = now
	rec.CompletedAt = nil
	rec.Error = ""
	r.records[key] = rec
	return &rec, true, nil
}

func (r *LedgerRepository) MarkCompleted(_ context.Context, key string, attempt int, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key]
	if !ok || rec.State != domain.StateProcessing || rec.AttemptCount != attempt {
		return false, nil
	}
	rec.State = domain.StateCompleted
	rec.CompletedAt = &now
	rec.UpdatedAt = now
	rec.Error = ""
	r.records[key] = rec
	return true, nil
}

func (r *LedgerRepository) MarkFailed(_ context.Context, key string, attempt int, reason string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key]
	if !ok || rec.State != domain.StateProcessing || rec.AttemptCount != attempt {
		return false, nil
	}
	rec.State = domain.StateFailed
	rec.Error = reason
	rec.UpdatedAt = now
	r.records[key] = rec
	return true, nil
}

func (r *LedgerRepository) ListFailed(_ context.Context, limit int) ([]*domain.WebhookRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.WebhookRecord
	for _, rec := range r.records {
		if rec.State == domain.StateFailed {
			rec := rec
			out = append(out, &rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Put stores rec as-is. Test helper for seeding stale or failed records.
func (r *LedgerRepository) Put(rec domain.WebhookRecord) {
	r.mu.Lock()
	r.records[rec.IdempotencyKey] = rec
	r.mu.Unlock()
}

func (r *LedgerRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
