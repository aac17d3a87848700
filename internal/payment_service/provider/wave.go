package provider

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/whatsgate/golang_services/internal/payment_service/domain"
	"github.com/whatsgate/golang_services/internal/platform/signature"
)

// Wave checkout webhooks. The order id travels in client_reference.
type waveWebhook struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		ID              string `json:"id"`
		Amount          string `json:"amount"`
		Currency        string `json:"currency"`
		CheckoutStatus  string `json:"checkout_status"`
		PaymentStatus   string `json:"payment_status"`
		ClientReference string `json:"client_reference"`
		TransactionID   string `json:"transaction_id"`
		WhenCompleted   string `json:"when_completed"`
		WhenCreated     string `json:"when_created"`
		SenderMobile    string `json:"sender_mobile"`
	} `json:"data"`
}

type WaveParser struct {
	now func() time.Time
}

func NewWaveParser() *WaveParser {
	return &WaveParser{now: func() time.Time { return time.Now().UTC() }}
}

func (p *WaveParser) Name() string { return signature.ProviderWave }

func (p *WaveParser) Parse(raw []byte) (*domain.PaymentEvent, error) {
	var w waveWebhook
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, domain.Malformed(p.Name(), "decoding body: %v", err)
	}
	if w.Data.ClientReference == "" {
		return nil, domain.Malformed(p.Name(), "client_reference is missing")
	}
	ref := firstNonEmpty(w.Data.TransactionID, w.Data.ID, w.ID)
	if ref == "" {
		return nil, domain.Malformed(p.Name(), "no transaction or session id")
	}

	ev := &domain.PaymentEvent{
		Provider:      p.Name(),
		Reference:     ref,
		OrderID:       w.Data.ClientReference,
		Outcome:       waveOutcome(w.Type, w.Data.PaymentStatus),
		Currency:      strings.ToUpper(w.Data.Currency),
		Method:        "wave",
		CustomerPhone: w.Data.SenderMobile,
		OccurredAt:    parseTime(firstNonEmpty(w.Data.WhenCompleted, w.Data.WhenCreated), p.now()),
	}
	if w.Data.Amount != "" {
		amount, err := domain.ParseAmount(w.Data.Amount, ev.Currency)
		if err != nil {
			return nil, domain.Malformed(p.Name(), "%v", err)
		}
		ev.Amount = amount
		ev.AmountReported = true
	}
	return ev, nil
}

func waveOutcome(eventType, paymentStatus string) domain.Outcome {
	switch eventType {
	case "checkout.session.payment_failed":
		return domain.OutcomeFailed
	case "checkout.session.completed":
		if paymentStatus == "" {
			return domain.OutcomeSucceeded
		}
	}
	return domain.OutcomeFromStatus(paymentStatus)
}
