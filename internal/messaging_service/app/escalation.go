package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/whatsgate/golang_services/internal/platform/alerting"
	"github.com/whatsgate/golang_services/internal/platform/messagebroker"
)

const TicketSubject = "support.tickets.create"

// Ticket is published for conversations that need a human.
type Ticket struct {
	TenantID      string    `json:"tenant_id"`
	SessionID     string    `json:"session_id"`
	CustomerPhone string    `json:"customer_phone"`
	CustomerName  string    `json:"customer_name,omitempty"`
	Provider      string    `json:"provider"`
	Intent        string    `json:"intent"`
	Message       string    `json:"message"`
	CreatedAt     time.Time `json:"created_at"`
}

// Escalator hands tickets to the support system and pings operators.
type Escalator struct {
	publisher messagebroker.Publisher
	alerter   alerting.Alerter
	subject   string
	logger    *slog.Logger
}

func NewEscalator(publisher messagebroker.Publisher, alerter alerting.Alerter, logger *slog.Logger) *Escalator {
	return &Escalator{
		publisher: publisher,
		alerter:   alerter,
		subject:   TicketSubject,
		logger:    logger.With("component", "escalator"),
	}
}

// Escalate publishes the ticket and sends the operator alert. Both are
// attempted; the joined error reports whichever failed.
func (e *Escalator) Escalate(ctx context.Context, t Ticket) error {
	var errs []error

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshalling ticket: %w", err)
	}
	if err := e.publisher.Publish(ctx, e.subject, data); err != nil {
		errs = append(errs, fmt.Errorf("publishing ticket: %w", err))
	}

	text := fmt.Sprintf("[%s] %s needs attention (%s): %q", t.TenantID, t.CustomerPhone, t.Intent, truncate(t.Message, 300))
	if err := e.alerter.Alert(ctx, text); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	e.logger.InfoContext(ctx, "Conversation escalated", "tenant_id", t.TenantID, "session_id", t.SessionID, "intent", t.Intent)
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
