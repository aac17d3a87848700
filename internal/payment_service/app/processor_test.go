package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatsgate/golang_services/internal/payment_service/domain"
	"github.com/whatsgate/golang_services/internal/platform/signature"
	ldomain "github.com/whatsgate/golang_services/internal/webhook_ledger/domain"
)

func signWave(body []byte) string {
	return signature.SignWave(body, waveSecret, time.Now())
}

func TestProcessor_DuplicateWaveWebhook(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10, reservedOrder("O1", 5000))
	body := waveBody("O1", "T1", "succeeded", "5000")

	res, err := h.processor.Process(ctx, "wave", body, signWave(body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, "wave_T1", res.Key)
	assert.Equal(t, domain.OrderPaid, h.orders.status("O1"))

	res, err = h.processor.Process(ctx, "wave", body, signWave(body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)

	assert.Equal(t, domain.OrderPaid, h.orders.status("O1"))
	assert.Equal(t, 1, h.orders.auditCount())
	require.Len(t, h.events.orders, 1)
	assert.Equal(t, domain.OrderReserved, h.events.orders[0].FromStatus)
	require.Len(t, h.receipts.sent, 1)
	assert.Equal(t, "5000 XOF", h.receipts.sent[0].Amount)

	rec, err := h.ledger.Get(ctx, "wave_T1")
	require.NoError(t, err)
	assert.Equal(t, ldomain.StateCompleted, rec.State)
}

func TestProcessor_ConcurrentDeliveriesMutateOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10, reservedOrder("O1", 5000))
	body := waveBody("O1", "T9", "succeeded", "5000")
	sig := signWave(body)

	const n = 20
	var wg sync.WaitGroup
	outcomes := make([]Outcome, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.processor.Process(ctx, "wave", body, sig)
			outcomes[i], errs[i] = res.Outcome, err
		}(i)
	}
	wg.Wait()

	applied := 0
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		if outcomes[i] == OutcomeApplied {
			applied++
		} else {
			assert.Equal(t, OutcomeDuplicate, outcomes[i])
		}
	}
	assert.Equal(t, 1, applied)
	assert.Equal(t, 1, h.orders.auditCount())
	assert.Equal(t, 1, h.records.Len())
}

func TestProcessor_StaleProcessingRecovery(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10, reservedOrder("O2", 2500))
	stale := time.Now().UTC().Add(-time.Hour)
	h.records.Put(ldomain.WebhookRecord{
		IdempotencyKey: "orange_money_R1", Provider: "orange_money", Reference: "R1", SubjectID: "O2",
		State: ldomain.StateProcessing, ReceivedAt: stale, UpdatedAt: stale, AttemptCount: 1,
	})

	body := omBody("O2", "R1", "SUCCESS", 2500)
	res, err := h.processor.Process(ctx, "orange_money", body, signature.SignOrangeMoney(body, omSecret))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, domain.OrderPaid, h.orders.status("O2"))

	rec, err := h.ledger.Get(ctx, "orange_money_R1")
	require.NoError(t, err)
	assert.Equal(t, ldomain.StateCompleted, rec.State)
	assert.Equal(t, 2, rec.AttemptCount)
}

func TestProcessor_SignatureRejection(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10, reservedOrder("O1", 5000))
	body := waveBody("O1", "T1", "succeeded", "5000")

	for name, header := range map[string]string{
		"missing":      "",
		"wrong secret": signature.SignWave(body, "not-the-secret", time.Now()),
		"other body":   signWave([]byte(`{"tampered":true}`)),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := h.processor.Process(ctx, "wave", body, header)
			assert.ErrorIs(t, err, domain.ErrInvalidSignature)
		})
	}
	assert.Zero(t, h.records.Len())
	assert.Zero(t, h.orders.auditCount())
	assert.Equal(t, domain.OrderReserved, h.orders.status("O1"))
}

func TestProcessor_UnknownProviderAndMalformed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)

	_, err := h.processor.Process(ctx, "paypal", []byte(`{}`), "sig")
	assert.ErrorIs(t, err, domain.ErrUnknownProvider)

	body := []byte(`{"id":"EV","type":"checkout.session.completed","data":{"transaction_id":"T1"}}`)
	_, err = h.processor.Process(ctx, "wave", body, signWave(body))
	assert.ErrorIs(t, err, domain.ErrMalformedPayload)
	assert.Zero(t, h.records.Len())
}

func TestProcessor_PendingIsIgnored(t *testing.T) {
	h := newHarness(t, 10, reservedOrder("O1", 5000))
	body := omBody("O1", "R5", "INITIATED", 5000)

	res, err := h.processor.Process(context.Background(), "orange_money", body, signature.SignOrangeMoney(body, omSecret))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Zero(t, h.records.Len())
}

func TestProcessor_OrderNotFoundIsRetried(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 3)
	body := waveBody("O404", "T2", "succeeded", "5000")

	_, err := h.processor.Process(ctx, "wave", body, signWave(body))
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	rec, err := h.ledger.Get(ctx, "wave_T2")
	require.NoError(t, err)
	assert.Equal(t, ldomain.StateFailed, rec.State)
	assert.Equal(t, "order not found", rec.Error)

	res, err := h.processor.Process(ctx, "wave", body, signWave(body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRetryDeferred, res.Outcome)
	assert.Positive(t, res.RetryAfter)
	assert.Empty(t, h.events.reconcile)
}

func TestProcessor_OrderNotFoundAbandonedAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 3)
	old := time.Now().UTC().Add(-time.Hour)
	h.records.Put(ldomain.WebhookRecord{
		IdempotencyKey: "wave_T3", Provider: "wave", Reference: "T3", SubjectID: "O404",
		State: ldomain.StateFailed, ReceivedAt: old, UpdatedAt: old, AttemptCount: 2, Error: "order not found",
	})
	body := waveBody("O404", "T3", "succeeded", "5000")

	res, err := h.processor.Process(ctx, "wave", body, signWave(body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAbandoned, res.Outcome)

	require.Len(t, h.events.reconcile, 1)
	assert.Equal(t, 3, h.events.reconcile[0].Attempts)
	assert.Equal(t, "O404", h.events.reconcile[0].OrderID)

	rec, err := h.ledger.Get(ctx, "wave_T3")
	require.NoError(t, err)
	assert.Equal(t, ldomain.StateFailed, rec.State)
}

func TestProcessor_Underpayment(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10, reservedOrder("O1", 5000))
	body := waveBody("O1", "T4", "succeeded", "4000")

	res, err := h.processor.Process(ctx, "wave", body, signWave(body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnderpaid, res.Outcome)
	assert.Equal(t, domain.OrderReserved, h.orders.status("O1"))
	assert.Zero(t, h.orders.auditCount())

	require.Len(t, h.events.reconcile, 1)
	assert.Equal(t, int64(4000), h.events.reconcile[0].Amount)
	assert.Equal(t, int64(5000), h.events.reconcile[0].ExpectedAmount)
	assert.Contains(t, h.events.reconcile[0].Reason, "underpaid")
}

func TestProcessor_ReportedZeroAmountIsUnderpaid(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10, reservedOrder("O1", 5000))
	body := waveBody("O1", "T5", "succeeded", "0")

	res, err := h.processor.Process(ctx, "wave", body, signWave(body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnderpaid, res.Outcome)
	assert.Equal(t, domain.OrderReserved, h.orders.status("O1"))
	assert.Empty(t, h.receipts.sent)

	require.Len(t, h.events.reconcile, 1)
	assert.Zero(t, h.events.reconcile[0].Amount)
	assert.Contains(t, h.events.reconcile[0].Reason, "underpaid")
}

func TestProcessor_FailedPaymentReopensOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10, reservedOrder("O1", 5000))
	body := omBody("O1", "R7", "FAILED", 5000)

	res, err := h.processor.Process(ctx, "orange_money", body, signature.SignOrangeMoney(body, omSecret))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, domain.OrderPending, h.orders.status("O1"))

	entries, err := h.orders.ListAudit(ctx, "O1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ActionPaymentFailed, entries[0].Action)
	assert.Empty(t, h.receipts.sent)
	require.Len(t, h.events.orders, 1)
	assert.Equal(t, domain.OrderPending, h.events.orders[0].ToStatus)
}

func TestProcessor_SecondReferenceOnPaidOrderIsUnchanged(t *testing.T) {
	ctx := context.Background()
	paid := reservedOrder("O1", 5000)
	paid.Status = domain.OrderPaid
	h := newHarness(t, 10, paid)
	body := waveBody("O1", "T5", "succeeded", "5000")

	res, err := h.processor.Process(ctx, "wave", body, signWave(body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, res.Outcome)
	assert.Zero(t, h.orders.auditCount())

	rec, err := h.ledger.Get(ctx, "wave_T5")
	require.NoError(t, err)
	assert.Equal(t, ldomain.StateCompleted, rec.State)
}

func TestProcessor_StoreErrorFailsLedger(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10, reservedOrder("O1", 5000))
	h.orders.getErr = errors.New("connection reset")
	body := waveBody("O1", "T6", "succeeded", "5000")

	_, err := h.processor.Process(ctx, "wave", body, signWave(body))
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrOrderNotFound)

	rec, err := h.ledger.Get(ctx, "wave_T6")
	require.NoError(t, err)
	assert.Equal(t, ldomain.StateFailed, rec.State)
	assert.Equal(t, "connection reset", rec.Error)
}
