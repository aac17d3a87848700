package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/whatsgate/golang_services/internal/payment_service/domain"
	"github.com/whatsgate/golang_services/internal/payment_service/repository"
	"github.com/whatsgate/golang_services/internal/platform/database"
)

const orderColumns = `id, vendor_id, status, total_amount, currency, customer_phone,
       payment_method, payment_reference, paid_at, updated_at`

type PgOrderRepository struct {
	db     database.DBTX
	logger *slog.Logger
	now    func() time.Time
}

func NewPgOrderRepository(db database.DBTX, logger *slog.Logger) repository.OrderRepository {
	return &PgOrderRepository{
		db:     db,
		logger: logger.With("component", "order_repository_pg"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	var status string
	var phone, method, reference *string
	err := row.Scan(&o.ID, &o.VendorID, &status, &o.TotalAmount, &o.Currency, &phone,
		&method, &reference, &o.PaidAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Status = domain.OrderStatus(status)
	if phone != nil {
		o.CustomerPhone = *phone
	}
	if method != nil {
		o.PaymentMethod = *method
	}
	if reference != nil {
		o.PaymentReference = *reference
	}
	return &o, nil
}

func (r *PgOrderRepository) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	row := r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		r.logger.ErrorContext(ctx, "Error getting order", "order_id", id, "error", err)
		return nil, fmt.Errorf("getting order %s: %w", id, err)
	}
	return o, nil
}

func (r *PgOrderRepository) ApplyTransition(ctx context.Context, t domain.Transition) (*domain.AuditEntry, error) {
	now := r.now()
	at := t.At
	if at.IsZero() {
		at = now
	}

	entry, err := r.applyInTx(ctx, t, at, now)
	if err != nil {
		if !errors.Is(err, domain.ErrTransitionNotAllowed) && !errors.Is(err, domain.ErrOrderNotFound) {
			r.logger.ErrorContext(ctx, "Order transition failed", "order_id", t.OrderID, "to", t.To, "error", err)
		}
		return nil, err
	}
	r.logger.InfoContext(ctx, "Order transitioned",
		"order_id", t.OrderID, "from", entry.FromStatus, "to", entry.ToStatus, "provider", t.Provider, "reference", t.Reference)
	return entry, nil
}

func (r *PgOrderRepository) applyInTx(ctx context.Context, t domain.Transition, at, now time.Time) (*domain.AuditEntry, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var vendorID, current string
	err = tx.QueryRow(ctx, `SELECT vendor_id, status FROM orders WHERE id = $1 FOR UPDATE`, t.OrderID).
		Scan(&vendorID, &current)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("locking order: %w", err)
	}
	from := domain.OrderStatus(current)
	if !slices.Contains(t.From, from) {
		return nil, fmt.Errorf("%w: %s is %s, wanted one of %v", domain.ErrTransitionNotAllowed, t.OrderID, from, t.From)
	}

	var method, reference *string
	var paidAt *time.Time
	if t.To == domain.OrderPaid {
		method, reference, paidAt = &t.Method, &t.Reference, &at
	}
	tag, err := tx.Exec(ctx, `
		UPDATE orders SET
			status = $2,
			payment_method = COALESCE($3, payment_method),
			payment_reference = COALESCE($4, payment_reference),
			paid_at = COALESCE($5, paid_at),
			updated_at = $6
		WHERE id = $1 AND status = $7`,
		t.OrderID, string(t.To), method, reference, paidAt, now, current)
	if err != nil {
		return nil, fmt.Errorf("updating order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("%w: %s changed concurrently", domain.ErrTransitionNotAllowed, t.OrderID)
	}

	entry := &domain.AuditEntry{
		ID:         uuid.New(),
		OrderID:    t.OrderID,
		VendorID:   vendorID,
		Action:     t.Action,
		FromStatus: from,
		ToStatus:   t.To,
		Provider:   t.Provider,
		Reference:  t.Reference,
		CreatedAt:  now,
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO order_audit_log (id, order_id, vendor_id, action, from_status, to_status, provider, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.OrderID, entry.VendorID, entry.Action, string(entry.FromStatus), string(entry.ToStatus),
		entry.Provider, entry.Reference, entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("writing audit entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing order transition: %w", err)
	}
	return entry, nil
}

func (r *PgOrderRepository) ListAudit(ctx context.Context, orderID string) ([]*domain.AuditEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, order_id, vendor_id, action, from_status, to_status, provider, reference, created_at
		FROM order_audit_log WHERE order_id = $1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}
	defer rows.Close()

	var out []*domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var from, to string
		if err := rows.Scan(&e.ID, &e.OrderID, &e.VendorID, &e.Action, &from, &to, &e.Provider, &e.Reference, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.FromStatus, e.ToStatus = domain.OrderStatus(from), domain.OrderStatus(to)
		out = append(out, &e)
	}
	return out, rows.Err()
}
