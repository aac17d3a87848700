package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/whatsgate/golang_services/internal/messaging_service/domain"
	tdomain "github.com/whatsgate/golang_services/internal/tenant_directory/domain"
)

var ErrNoConnectedChannel = errors.New("vendor has no connected channel")

type TenantChannelLister interface {
	ListTenantChannels(ctx context.Context, tenantID string) ([]*tdomain.TenantChannel, error)
}

// PaymentReceipt is what the customer is told once an order is paid.
type PaymentReceipt struct {
	VendorID      string
	OrderID       string
	CustomerPhone string
	Amount        string
	Reference     string
}

// PaymentReceiptNotifier tells customers their payment went through, using
// the vendor's first connected channel.
type PaymentReceiptNotifier struct {
	channels TenantChannelLister
	sender   *OutboundSender
	logger   *slog.Logger
}

func NewPaymentReceiptNotifier(channels TenantChannelLister, sender *OutboundSender, logger *slog.Logger) *PaymentReceiptNotifier {
	return &PaymentReceiptNotifier{channels: channels, sender: sender, logger: logger.With("component", "receipt_notifier")}
}

func (n *PaymentReceiptNotifier) NotifyPaymentReceived(ctx context.Context, r PaymentReceipt) error {
	phone, err := tdomain.NormalizePhone(r.CustomerPhone)
	if err != nil {
		return fmt.Errorf("receipt for order %s: %w", r.OrderID, err)
	}
	channels, err := n.channels.ListTenantChannels(ctx, r.VendorID)
	if err != nil {
		return fmt.Errorf("listing vendor channels: %w", err)
	}
	var ch *tdomain.TenantChannel
	for _, c := range channels {
		if c.IsConnected() {
			ch = c
			break
		}
	}
	if ch == nil {
		return fmt.Errorf("%w: %s", ErrNoConnectedChannel, r.VendorID)
	}

	text := fmt.Sprintf("Paiement reçu ✅ Commande %s, montant %s (réf. %s). Merci pour votre achat !", r.OrderID, r.Amount, r.Reference)
	_, err = n.sender.Send(ctx, SendRequest{
		Channel:   ch,
		SessionID: domain.SessionID(r.VendorID, phone),
		To:        phone,
		Content:   domain.TextContent(text),
	})
	return err
}
