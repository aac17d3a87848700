package postgres

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatsgate/golang_services/internal/payment_service/domain"
)

var orderCols = []string{
	"id", "vendor_id", "status", "total_amount", "currency", "customer_phone",
	"payment_method", "payment_reference", "paid_at", "updated_at",
}

func strPtr(s string) *string { return &s }

var fixedNow = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func newTestRepo(t *testing.T) (pgxmock.PgxPoolIface, *PgOrderRepository) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)
	repo := NewPgOrderRepository(mockPool, slog.New(slog.NewTextHandler(io.Discard, nil))).(*PgOrderRepository)
	repo.now = func() time.Time { return fixedNow }
	return mockPool, repo
}

func paidTransition() domain.Transition {
	return domain.Transition{
		OrderID:   "O1",
		From:      []domain.OrderStatus{domain.OrderPending, domain.OrderReserved},
		To:        domain.OrderPaid,
		Action:    domain.ActionPaymentReceived,
		Provider:  "wave",
		Reference: "T1",
		Method:    "wave",
		At:        fixedNow.Add(-time.Minute),
	}
}

func TestPgOrderRepository_GetOrder(t *testing.T) {
	mockPool, repo := newTestRepo(t)
	mockPool.ExpectQuery(`SELECT .+ FROM orders WHERE id = \$1`).
		WithArgs("O1").
		WillReturnRows(mockPool.NewRows(orderCols).AddRow(
			"O1", "V1", "reserved", int64(5000), "XOF", strPtr("+221770000001"), nil, nil, nil, fixedNow,
		))

	o, err := repo.GetOrder(context.Background(), "O1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderReserved, o.Status)
	assert.Equal(t, int64(5000), o.TotalAmount)
	assert.Equal(t, "+221770000001", o.CustomerPhone)
	assert.Nil(t, o.PaidAt)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPgOrderRepository_GetOrderNotFound(t *testing.T) {
	mockPool, repo := newTestRepo(t)
	mockPool.ExpectQuery(`SELECT .+ FROM orders`).WithArgs("missing").WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetOrder(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPgOrderRepository_ApplyTransition(t *testing.T) {
	mockPool, repo := newTestRepo(t)
	tr := paidTransition()

	mockPool.ExpectBegin()
	mockPool.ExpectQuery(`SELECT vendor_id, status FROM orders WHERE id = \$1 FOR UPDATE`).
		WithArgs("O1").
		WillReturnRows(mockPool.NewRows([]string{"vendor_id", "status"}).AddRow("V1", "reserved"))
	mockPool.ExpectExec(`UPDATE orders SET`).
		WithArgs("O1", "paid", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), fixedNow, "reserved").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mockPool.ExpectExec(`INSERT INTO order_audit_log`).
		WithArgs(pgxmock.AnyArg(), "O1", "V1", domain.ActionPaymentReceived, "reserved", "paid", "wave", "T1", fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectCommit()

	entry, err := repo.ApplyTransition(context.Background(), tr)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, entry.ID)
	assert.Equal(t, domain.OrderReserved, entry.FromStatus)
	assert.Equal(t, domain.OrderPaid, entry.ToStatus)
	assert.Equal(t, "V1", entry.VendorID)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPgOrderRepository_ApplyTransitionRejectsPaidOrder(t *testing.T) {
	mockPool, repo := newTestRepo(t)

	mockPool.ExpectBegin()
	mockPool.ExpectQuery(`SELECT vendor_id, status FROM orders`).
		WithArgs("O1").
		WillReturnRows(mockPool.NewRows([]string{"vendor_id", "status"}).AddRow("V1", "paid"))
	mockPool.ExpectRollback()

	_, err := repo.ApplyTransition(context.Background(), paidTransition())
	assert.ErrorIs(t, err, domain.ErrTransitionNotAllowed)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPgOrderRepository_ApplyTransitionAuditFailureRollsBack(t *testing.T) {
	mockPool, repo := newTestRepo(t)

	mockPool.ExpectBegin()
	mockPool.ExpectQuery(`SELECT vendor_id, status FROM orders`).
		WithArgs("O1").
		WillReturnRows(mockPool.NewRows([]string{"vendor_id", "status"}).AddRow("V1", "pending"))
	mockPool.ExpectExec(`UPDATE orders SET`).
		WithArgs("O1", "paid", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), fixedNow, "pending").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mockPool.ExpectExec(`INSERT INTO order_audit_log`).WillReturnError(errors.New("disk full"))
	mockPool.ExpectRollback()

	_, err := repo.ApplyTransition(context.Background(), paidTransition())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "writing audit entry")
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPgOrderRepository_ApplyTransitionOrderMissing(t *testing.T) {
	mockPool, repo := newTestRepo(t)

	mockPool.ExpectBegin()
	mockPool.ExpectQuery(`SELECT vendor_id, status FROM orders`).WithArgs("O1").WillReturnError(pgx.ErrNoRows)
	mockPool.ExpectRollback()

	_, err := repo.ApplyTransition(context.Background(), paidTransition())
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPgOrderRepository_ListAudit(t *testing.T) {
	mockPool, repo := newTestRepo(t)
	id := uuid.New()
	mockPool.ExpectQuery(`FROM order_audit_log WHERE order_id = \$1`).
		WithArgs("O1").
		WillReturnRows(mockPool.NewRows([]string{"id", "order_id", "vendor_id", "action", "from_status", "to_status", "provider", "reference", "created_at"}).
			AddRow(id, "O1", "V1", domain.ActionPaymentReceived, "reserved", "paid", "wave", "T1", fixedNow))

	entries, err := repo.ListAudit(context.Background(), "O1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)
	assert.Equal(t, domain.OrderPaid, entries[0].ToStatus)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
