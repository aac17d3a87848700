package provider

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/whatsgate/golang_services/internal/payment_service/domain"
	"github.com/whatsgate/golang_services/internal/platform/signature"
)

// Orange Money web-payment notification. amount may arrive as a string or a
// number depending on the country platform.
type orangeMoneyNotification struct {
	Status     string      `json:"status"`
	TxnID      string      `json:"txnid"`
	NotifToken string      `json:"notif_token"`
	OrderID    string      `json:"order_id"`
	Amount     json.Number `json:"amount"`
	Currency   string      `json:"currency"`
	Msisdn     string      `json:"msisdn"`
	Timestamp  string      `json:"timestamp"`
}

type OrangeMoneyParser struct {
	defaultCurrency string
	now             func() time.Time
}

// NewOrangeMoneyParser uses defaultCurrency when a notification carries none.
func NewOrangeMoneyParser(defaultCurrency string) *OrangeMoneyParser {
	if defaultCurrency == "" {
		defaultCurrency = "XOF"
	}
	return &OrangeMoneyParser{
		defaultCurrency: strings.ToUpper(defaultCurrency),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

func (p *OrangeMoneyParser) Name() string { return signature.ProviderOrangeMoney }

func (p *OrangeMoneyParser) Parse(raw []byte) (*domain.PaymentEvent, error) {
	var n orangeMoneyNotification
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, domain.Malformed(p.Name(), "decoding body: %v", err)
	}
	if n.TxnID == "" {
		return nil, domain.Malformed(p.Name(), "txnid is missing")
	}
	if n.OrderID == "" {
		return nil, domain.Malformed(p.Name(), "order_id is missing")
	}

	currency := strings.ToUpper(firstNonEmpty(n.Currency, p.defaultCurrency))
	ev := &domain.PaymentEvent{
		Provider:      p.Name(),
		Reference:     n.TxnID,
		OrderID:       n.OrderID,
		Outcome:       domain.OutcomeFromStatus(n.Status),
		Currency:      currency,
		Method:        "orange_money",
		CustomerPhone: n.Msisdn,
		OccurredAt:    parseTime(n.Timestamp, p.now()),
	}
	if n.Amount != "" {
		amount, err := domain.ParseAmount(n.Amount.String(), currency)
		if err != nil {
			return nil, domain.Malformed(p.Name(), "%v", err)
		}
		ev.Amount = amount
		ev.AmountReported = true
	}
	return ev, nil
}
