package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrOrderNotFound        = errors.New("order not found")
	ErrTransitionNotAllowed = errors.New("order status does not allow this transition")
	ErrInvalidSignature     = errors.New("invalid webhook signature")
	ErrUnknownProvider      = errors.New("unknown payment provider")
	ErrMalformedPayload     = errors.New("malformed payment payload")
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderReserved  OrderStatus = "reserved"
	OrderPaid      OrderStatus = "paid"
	OrderCancelled OrderStatus = "cancelled"
)

// Order is owned by the commerce service. Only the fields the payment flow
// reads or writes are mapped.
type Order struct {
	ID               string      `json:"id"`
	VendorID         string      `json:"vendor_id"`
	Status           OrderStatus `json:"status"`
	TotalAmount      int64       `json:"total_amount"` // minor units of Currency
	Currency         string      `json:"currency"`
	CustomerPhone    string      `json:"customer_phone,omitempty"`
	PaymentMethod    string      `json:"payment_method,omitempty"`
	PaymentReference string      `json:"payment_reference,omitempty"`
	PaidAt           *time.Time  `json:"paid_at,omitempty"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// Transition is a conditional status change. It applies only while the order
// is in one of From.
type Transition struct {
	OrderID   string
	From      []OrderStatus
	To        OrderStatus
	Action    string
	Provider  string
	Reference string
	Method    string
	At        time.Time
}

// AuditEntry is written in the same transaction as the transition it records.
type AuditEntry struct {
	ID         uuid.UUID   `json:"id"`
	OrderID    string      `json:"order_id"`
	VendorID   string      `json:"vendor_id"`
	Action     string      `json:"action"`
	FromStatus OrderStatus `json:"from_status"`
	ToStatus   OrderStatus `json:"to_status"`
	Provider   string      `json:"provider"`
	Reference  string      `json:"reference"`
	CreatedAt  time.Time   `json:"created_at"`
}

const (
	ActionPaymentReceived = "payment_received"
	ActionPaymentFailed   = "payment_failed"
)

// TransitionFor returns the transition an event asks for on order, or false
// when the order is already where the event would put it (or past it).
func TransitionFor(order *Order, ev *PaymentEvent) (Transition, bool) {
	t := Transition{
		OrderID:   order.ID,
		Provider:  ev.Provider,
		Reference: ev.Reference,
		Method:    ev.Method,
		At:        ev.OccurredAt,
	}
	switch ev.Outcome {
	case OutcomeSucceeded:
		if order.Status != OrderPending && order.Status != OrderReserved {
			return Transition{}, false
		}
		t.From = []OrderStatus{OrderPending, OrderReserved}
		t.To = OrderPaid
		t.Action = ActionPaymentReceived
		return t, true
	case OutcomeFailed:
		// A failed attempt never reverts a paid order.
		if order.Status != OrderReserved {
			return Transition{}, false
		}
		t.From = []OrderStatus{OrderReserved}
		t.To = OrderPending
		t.Action = ActionPaymentFailed
		return t, true
	}
	return Transition{}, false
}
