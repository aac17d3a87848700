package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatsgate/golang_services/internal/payment_service/domain"
)

func TestWaveParser(t *testing.T) {
	p := NewWaveParser()

	ev, err := p.Parse([]byte(`{
		"id": "EV_01",
		"type": "checkout.session.completed",
		"data": {
			"id": "cos-18qq",
			"amount": "5000",
			"currency": "XOF",
			"checkout_status": "complete",
			"payment_status": "succeeded",
			"client_reference": "O1",
			"transaction_id": "T1",
			"when_completed": "2026-05-04T09:00:00Z",
			"sender_mobile": "+221770000001"
		}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "wave", ev.Provider)
	assert.Equal(t, "T1", ev.Reference)
	assert.Equal(t, "O1", ev.OrderID)
	assert.Equal(t, domain.OutcomeSucceeded, ev.Outcome)
	assert.Equal(t, int64(5000), ev.Amount)
	assert.True(t, ev.AmountReported)
	assert.Equal(t, "XOF", ev.Currency)
	assert.Equal(t, time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC), ev.OccurredAt)
}

func TestWaveParser_FailedSessionUsesSessionID(t *testing.T) {
	ev, err := NewWaveParser().Parse([]byte(`{"id":"EV_02","type":"checkout.session.payment_failed",
		"data":{"id":"cos-19","currency":"XOF","client_reference":"O2","payment_status":"processing"}}`))
	require.NoError(t, err)
	assert.Equal(t, "cos-19", ev.Reference)
	assert.Equal(t, domain.OutcomeFailed, ev.Outcome)
	assert.Zero(t, ev.Amount)
	assert.False(t, ev.AmountReported)
}

func TestWaveParser_ZeroAmountIsReported(t *testing.T) {
	ev, err := NewWaveParser().Parse([]byte(`{"id":"EV_03","type":"checkout.session.completed",
		"data":{"amount":"0","currency":"XOF","client_reference":"O3","transaction_id":"T3","payment_status":"succeeded"}}`))
	require.NoError(t, err)
	assert.Zero(t, ev.Amount)
	assert.True(t, ev.AmountReported)
}

func TestWaveParser_Malformed(t *testing.T) {
	p := NewWaveParser()
	for name, body := range map[string]string{
		"not json":         `{"id":`,
		"no order":         `{"id":"EV","type":"checkout.session.completed","data":{"transaction_id":"T"}}`,
		"bad amount":       `{"id":"EV","data":{"client_reference":"O","transaction_id":"T","amount":"12.5","currency":"XOF"}}`,
		"no reference ids": `{"type":"checkout.session.completed","data":{"client_reference":"O"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := p.Parse([]byte(body))
			assert.ErrorIs(t, err, domain.ErrMalformedPayload)
		})
	}
}

func TestOrangeMoneyParser(t *testing.T) {
	p := NewOrangeMoneyParser("xof")

	ev, err := p.Parse([]byte(`{"status":"SUCCESS","txnid":"R1","notif_token":"tok","order_id":"O7","amount":2500,"msisdn":"221770000002"}`))
	require.NoError(t, err)
	assert.Equal(t, "orange_money", ev.Provider)
	assert.Equal(t, "R1", ev.Reference)
	assert.Equal(t, domain.OutcomeSucceeded, ev.Outcome)
	assert.Equal(t, int64(2500), ev.Amount)
	assert.Equal(t, "XOF", ev.Currency)

	ev, err = p.Parse([]byte(`{"status":"FAILED","txnid":"R2","order_id":"O7","amount":"12.50","currency":"EUR"}`))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailed, ev.Outcome)
	assert.Equal(t, int64(1250), ev.Amount)

	ev, err = p.Parse([]byte(`{"status":"INITIATED","txnid":"R3","order_id":"O7"}`))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomePending, ev.Outcome)
	assert.False(t, ev.AmountReported)

	ev, err = p.Parse([]byte(`{"status":"SUCCESS","txnid":"R5","order_id":"O7","amount":0}`))
	require.NoError(t, err)
	assert.True(t, ev.AmountReported)

	_, err = p.Parse([]byte(`{"status":"SUCCESS","order_id":"O7"}`))
	assert.ErrorIs(t, err, domain.ErrMalformedPayload)
	_, err = p.Parse([]byte(`{"status":"SUCCESS","txnid":"R4"}`))
	assert.ErrorIs(t, err, domain.ErrMalformedPayload)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(NewWaveParser(), NewOrangeMoneyParser(""))
	assert.Equal(t, []string{"orange_money", "wave"}, r.Names())

	p, err := r.Get("wave")
	require.NoError(t, err)
	assert.Equal(t, "wave", p.Name())

	_, err = r.Get("paypal")
	assert.ErrorIs(t, err, domain.ErrUnknownProvider)
}
