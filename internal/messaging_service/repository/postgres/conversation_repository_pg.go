package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/whatsgate/golang_services/internal/messaging_service/domain"
	"github.com/whatsgate/golang_services/internal/messaging_service/repository"
	"github.com/whatsgate/golang_services/internal/platform/database"
)

const conversationColumns = `session_id, tenant_id, counterpart_phone, last_message_at, message_count,
       current_intent, current_step, status`

type PgConversationRepository struct {
	db     database.DBTX
	logger *slog.Logger
}

func NewPgConversationRepository(db database.DBTX, logger *slog.Logger) repository.ConversationRepository {
	return &PgConversationRepository{db: db, logger: logger.With("component", "conversation_repository_pg")}
}

func scanConversation(row pgx.Row) (*domain.ConversationContext, error) {
	var c domain.ConversationContext
	var intent, step *string
	var status string
	if err := row.Scan(&c.SessionID, &c.TenantID, &c.CounterpartPhone, &c.LastMessageAt, &c.MessageCount,
		&intent, &step, &status); err != nil {
		return nil, err
	}
	if intent != nil {
		c.CurrentIntent = domain.Intent(*intent)
	}
	if step != nil {
		c.CurrentStep = *step
	}
	c.Status = domain.ConversationStatus(status)
	return &c, nil
}

// Touch creates the conversation on first contact, otherwise bumps
// message_count and last_message_at. Closed conversations are reopened.
func (r *PgConversationRepository) Touch(ctx context.Context, tenantID, phone string, at time.Time) (*domain.ConversationContext, error) {
	query := `
		INSERT INTO conversation_contexts (session_id, tenant_id, counterpart_phone, last_message_at, message_count, status)
		VALUES ($1, $2, $3, $4, 1, 'active')
		ON CONFLICT (session_id) DO UPDATE SET
			message_count = conversation_contexts.message_count + 1,
			last_message_at = GREATEST(conversation_contexts.last_message_at, EXCLUDED.last_message_at),
			status = CASE WHEN conversation_contexts.status = 'closed' THEN 'active' ELSE conversation_contexts.status END
		RETURNING ` + conversationColumns

	c, err := scanConversation(r.db.QueryRow(ctx, query, domain.SessionID(tenantID, phone), tenantID, phone, at))
	if err != nil {
		r.logger.ErrorContext(ctx, "Error touching conversation", "error", err, "tenant_id", tenantID)
		return nil, fmt.Errorf("touching conversation: %w", err)
	}
	return c, nil
}

func (r *PgConversationRepository) Get(ctx context.Context, sessionID string) (*domain.ConversationContext, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversation_contexts WHERE session_id = $1`
	c, err := scanConversation(r.db.QueryRow(ctx, query, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrConversationNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting conversation", "error", err, "session_id", sessionID)
		return nil, fmt.Errorf("getting conversation: %w", err)
	}
	return c, nil
}

func (r *PgConversationRepository) UpdateIntent(ctx context.Context, sessionID string, intent domain.Intent, step string) error {
	query := `UPDATE conversation_contexts SET current_intent = $2, current_step = $3 WHERE session_id = $1`
	var stepArg *string
	if step != "" {
		stepArg = &step
	}
	tag, err := r.db.Exec(ctx, query, sessionID, string(intent), stepArg)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error updating conversation intent", "error", err, "session_id", sessionID)
		return fmt.Errorf("updating conversation intent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConversationNotFound
	}
	return nil
}

func (r *PgConversationRepository) SetStatus(ctx context.Context, sessionID string, status domain.ConversationStatus) error {
	tag, err := r.db.Exec(ctx, `UPDATE conversation_contexts SET status = $2 WHERE session_id = $1`, sessionID, string(status))
	if err != nil {
		r.logger.ErrorContext(ctx, "Error setting conversation status", "error", err, "session_id", sessionID)
		return fmt.Errorf("setting conversation status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConversationNotFound
	}
	return nil
}
