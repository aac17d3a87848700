package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/whatsgate/golang_services/internal/platform/database"
	"github.com/whatsgate/golang_services/internal/webhook_ledger/domain"
	"github.com/whatsgate/golang_services/internal/webhook_ledger/repository"
)

const recordColumns = `idempotency_key, provider, reference, subject_id, state,
       received_at, updated_at, completed_at, error, attempt_count`

type PgLedgerRepository struct {
	db     database.DBTX
	logger *slog.Logger
}

func NewPgLedgerRepository(db database.DBTX, logger *slog.Logger) repository.LedgerRepository {
	return &PgLedgerRepository{db: db, logger: logger.With("component", "ledger_repository_pg")}
}

func scanRecord(row pgx.Row) (*domain.WebhookRecord, error) {
	var rec domain.WebhookRecord
	var state string
	var errText *string
	err := row.Scan(
		&rec.IdempotencyKey, &rec.Provider, &rec.Reference, &rec.SubjectID, &state,
		&rec.ReceivedAt, &rec.UpdatedAt, &rec.CompletedAt, &errText, &rec.AttemptCount,
	)
	if err != nil {
		return nil, err
	}
	rec.State = domain.State(state)
	if errText != nil {
		rec.Error = *errText
	}
	return &rec, nil
}

func (r *PgLedgerRepository) Insert(ctx context.Context, rec *domain.WebhookRecord) (bool, error) {
	query := `
		INSERT INTO webhook_records (
			idempotency_key, provider, reference, subject_id, state, received_at, updated_at, attempt_count
		) VALUES ($1, $2, $3, $4, 'processing', $5, $5, 1)
		ON CONFLICT (idempotency_key) DO NOTHING`
	tag, err := r.db.Exec(ctx, query, rec.IdempotencyKey, rec.Provider, rec.Reference, rec.SubjectID, rec.ReceivedAt)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error inserting webhook record", "error", err, "key", rec.IdempotencyKey)
		return false, fmt.Errorf("inserting webhook record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgLedgerRepository) Get(ctx context.Context, key string) (*domain.WebhookRecord, error) {
	rec, err := scanRecord(r.db.QueryRow(ctx, `SELECT `+recordColumns+` FROM webhook_records WHERE idempotency_key = $1`, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("getting webhook record: %w", err)
	}
	return rec, nil
}

func (r *PgLedgerRepository) Takeover(ctx context.Context, key string, observed domain.State, observedAttempts int, now time.Time) (*domain.WebhookRecord, bool, error) {
	query := `
		UPDATE webhook_records SET
			state = 'processing',
			attempt_count = attempt_count + 1,
			received_at = $4,
			updated_at = $4,
			completed_at = NULL,
			error = NULL
		WHERE idempotency_key = $1 AND state = $2 AND attempt_count = $3
		RETURNING ` + recordColumns
	rec, err := scanRecord(r.db.QueryRow(ctx, query, key, string(observed), observedAttempts, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("taking over webhook record: %w", err)
	}
	return rec, true, nil
}

func (r *PgLedgerRepository) MarkCompleted(ctx context.Context, key string, attempt int, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE webhook_records SET state = 'completed', completed_at = $3, updated_at = $3, error = NULL
		WHERE idempotency_key = $1 AND state = 'processing' AND attempt_count = $2`, key, attempt, now)
	if err != nil {
		return false, fmt.Errorf("completing webhook record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgLedgerRepository) MarkFailed(ctx context.Context, key string, attempt int, reason string, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE webhook_records SET state = 'failed', error = $3, updated_at = $4
		WHERE idempotency_key = $1 AND state = 'processing' AND attempt_count = $2`, key, attempt, reason, now)
	if err != nil {
		return false, fmt.Errorf("failing webhook record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgLedgerRepository) ListFailed(ctx context.Context, limit int) ([]*domain.WebhookRecord, error) {
	rows, err := r.db.Query(ctx, `SELECT `+recordColumns+` FROM webhook_records
		WHERE state = 'failed' ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing failed webhook records: %w", err)
	}
	defer rows.Close()

	var out []*domain.WebhookRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning webhook record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
