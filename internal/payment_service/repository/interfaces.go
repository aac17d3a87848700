package repository

import (
	"context"

	"github.com/whatsgate/golang_services/internal/payment_service/domain"
)

type OrderRepository interface {
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	// ApplyTransition changes the order status and writes the audit entry in
	// one transaction. It returns ErrTransitionNotAllowed when the order is no
	// longer in one of t.From.
	ApplyTransition(ctx context.Context, t domain.Transition) (*domain.AuditEntry, error)
	ListAudit(ctx context.Context, orderID string) ([]*domain.AuditEntry, error)
}
