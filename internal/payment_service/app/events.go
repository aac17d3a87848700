package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/whatsgate/golang_services/internal/payment_service/domain"
	"github.com/whatsgate/golang_services/internal/platform/alerting"
	"github.com/whatsgate/golang_services/internal/platform/messagebroker"
)

const (
	OrderEventSubjectPrefix = "payments.order."
	ReconciliationSubject   = "payments.reconciliation"
)

// OrderEvent is published after a committed order transition.
type OrderEvent struct {
	OrderID    string             `json:"order_id"`
	VendorID   string             `json:"vendor_id"`
	FromStatus domain.OrderStatus `json:"from_status"`
	ToStatus   domain.OrderStatus `json:"to_status"`
	Provider   string             `json:"provider"`
	Reference  string             `json:"reference"`
	Amount     int64              `json:"amount"`
	Currency   string             `json:"currency"`
	OccurredAt time.Time          `json:"occurred_at"`
}

// ReconciliationCase is a payment that needs a human decision.
type ReconciliationCase struct {
	Provider       string    `json:"provider"`
	Reference      string    `json:"reference"`
	OrderID        string    `json:"order_id"`
	Reason         string    `json:"reason"`
	Amount         int64     `json:"amount,omitempty"`
	ExpectedAmount int64     `json:"expected_amount,omitempty"`
	Currency       string    `json:"currency,omitempty"`
	Attempts       int       `json:"attempts"`
	RaisedAt       time.Time `json:"raised_at"`
}

// Receipt is handed to the messaging side once an order is paid.
type Receipt struct {
	VendorID      string
	OrderID       string
	CustomerPhone string
	Amount        string
	Reference     string
}

type ReceiptNotifier interface {
	NotifyPaymentReceived(ctx context.Context, r Receipt) error
}

// EventPublisher emits order and reconciliation events.
type EventPublisher struct {
	publisher messagebroker.Publisher
	alerter   alerting.Alerter
	logger    *slog.Logger
}

func NewEventPublisher(publisher messagebroker.Publisher, alerter alerting.Alerter, logger *slog.Logger) *EventPublisher {
	return &EventPublisher{publisher: publisher, alerter: alerter, logger: logger.With("component", "payment_events")}
}

func (p *EventPublisher) OrderTransitioned(ctx context.Context, ev OrderEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshalling order event: %w", err)
	}
	return p.publisher.Publish(ctx, OrderEventSubjectPrefix+string(ev.ToStatus), data)
}

// Reconcile publishes the case and alerts operators. The alert is sent even
// when publishing fails.
func (p *EventPublisher) Reconcile(ctx context.Context, c ReconciliationCase) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling reconciliation case: %w", err)
	}
	pubErr := p.publisher.Publish(ctx, ReconciliationSubject, data)
	if pubErr != nil {
		p.logger.WarnContext(ctx, "Failed to publish reconciliation case", "order_id", c.OrderID, "error", pubErr)
	}

	text := fmt.Sprintf("Payment needs reconciliation: %s %s for order %s (%s)", c.Provider, c.Reference, c.OrderID, c.Reason)
	if err := p.alerter.Alert(ctx, text); err != nil {
		return err
	}
	return pubErr
}
