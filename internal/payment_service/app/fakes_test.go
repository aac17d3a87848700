package app

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/whatsgate/golang_services/internal/payment_service/domain"
	"github.com/whatsgate/golang_services/internal/payment_service/provider"
	"github.com/whatsgate/golang_services/internal/platform/effects"
	"github.com/whatsgate/golang_services/internal/platform/signature"
	ledgerapp "github.com/whatsgate/golang_services/internal/webhook_ledger/app"
	"github.com/whatsgate/golang_services/internal/webhook_ledger/repository/memory"
)

const (
	waveSecret = "wave-secret"
	omSecret   = "om-secret"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeOrders mimics the conditional update of the Postgres repository.
type fakeOrders struct {
	mu     sync.Mutex
	orders map[string]domain.Order
	audit  []domain.AuditEntry
	getErr error
}

func newFakeOrders(orders ...domain.Order) *fakeOrders {
	f := &fakeOrders{orders: make(map[string]domain.Order)}
	for _, o := range orders {
		f.orders[o.ID] = o
	}
	return f
}

func (f *fakeOrders) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	o, ok := f.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return &o, nil
}

func (f *fakeOrders) ApplyTransition(_ context.Context, t domain.Transition) (*domain.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[t.OrderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	allowed := false
	for _, s := range t.From {
		allowed = allowed || s == o.Status
	}
	if !allowed {
		return nil, domain.ErrTransitionNotAllowed
	}
	e := domain.AuditEntry{
		ID: uuid.New(), OrderID: o.ID, VendorID: o.VendorID, Action: t.Action,
		FromStatus: o.Status, ToStatus: t.To, Provider: t.Provider, Reference: t.Reference, CreatedAt: time.Now().UTC(),
	}
	o.Status = t.To
	if t.To == domain.OrderPaid {
		o.PaymentMethod, o.PaymentReference = t.Method, t.Reference
	}
	f.orders[o.ID] = o
	f.audit = append(f.audit, e)
	return &e, nil
}

func (f *fakeOrders) ListAudit(_ context.Context, orderID string) ([]*domain.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.AuditEntry
	for i := range f.audit {
		if f.audit[i].OrderID == orderID {
			e := f.audit[i]
			out = append(out, &e)
		}
	}
	return out, nil
}

func (f *fakeOrders) status(id string) domain.OrderStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders[id].Status
}

func (f *fakeOrders) auditCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.audit)
}

type fakeEvents struct {
	mu        sync.Mutex
	orders    []OrderEvent
	reconcile []ReconciliationCase
}

func (f *fakeEvents) OrderTransitioned(_ context.Context, ev OrderEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, ev)
	return nil
}

func (f *fakeEvents) Reconcile(_ context.Context, c ReconciliationCase) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconcile = append(f.reconcile, c)
	return nil
}

type fakeReceipts struct {
	mu   sync.Mutex
	sent []Receipt
}

func (f *fakeReceipts) NotifyPaymentReceived(_ context.Context, r Receipt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, r)
	return nil
}

type harness struct {
	processor *Processor
	ledger    *ledgerapp.Ledger
	records   *memory.LedgerRepository
	orders    *fakeOrders
	events    *fakeEvents
	receipts  *fakeReceipts
}

func newHarness(t *testing.T, maxAttempts int, orders ...domain.Order) *harness {
	t.Helper()
	h := &harness{
		records:  memory.NewLedgerRepository(),
		orders:   newFakeOrders(orders...),
		events:   &fakeEvents{},
		receipts: &fakeReceipts{},
	}
	h.ledger = ledgerapp.NewLedger(h.records,
		ledgerapp.Config{ProcessingTimeout: 5 * time.Minute, RetryCooldown: 30 * time.Second}, testLogger())
	h.processor = NewProcessor(ProcessorDeps{
		Parsers:                provider.NewRegistry(provider.NewWaveParser(), provider.NewOrangeMoneyParser("XOF")),
		Verifier:               signature.NewRegistry(map[string]string{"wave": waveSecret, "orange_money": omSecret}, nil),
		Ledger:                 h.ledger,
		Orders:                 h.orders,
		Events:                 h.events,
		Receipts:               h.receipts,
		Effects:                effects.Sync{Logger: testLogger()},
		Logger:                 testLogger(),
		MaxOrderLookupAttempts: maxAttempts,
	})
	return h
}

func waveBody(orderID, txID, status, amount string) []byte {
	return []byte(`{"id":"EV_` + txID + `","type":"checkout.session.completed","data":{"id":"cos-` + txID +
		`","amount":"` + amount + `","currency":"XOF","payment_status":"` + status +
		`","client_reference":"` + orderID + `","transaction_id":"` + txID + `"}}`)
}

func omBody(orderID, txID, status string, amount int) []byte {
	return []byte(`{"status":"` + status + `","txnid":"` + txID + `","order_id":"` + orderID +
		`","amount":` + strconv.Itoa(amount) + `,"msisdn":"+221770000009"}`)
}

func reservedOrder(id string, amount int64) domain.Order {
	return domain.Order{ID: id, VendorID: "V1", Status: domain.OrderReserved, TotalAmount: amount,
		Currency: "XOF", CustomerPhone: "+221770000001"}
}
