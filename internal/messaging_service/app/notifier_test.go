package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatsgate/golang_services/internal/messaging_service/provider"
	tdomain "github.com/whatsgate/golang_services/internal/tenant_directory/domain"
)

func TestPaymentReceiptNotifier_UsesConnectedChannel(t *testing.T) {
	down := &tdomain.TenantChannel{ID: uuid.New(), TenantID: "V1", Provider: tdomain.ProviderMeta,
		ProviderInstanceID: "PNID-1", ConnectionStatus: tdomain.StatusDisconnected}
	up := &tdomain.TenantChannel{ID: uuid.New(), TenantID: "V1", Provider: tdomain.ProviderGreenAPI,
		ProviderInstanceID: "1101", ConnectionStatus: tdomain.StatusConnected}
	meta := newFakeAdapter(tdomain.ProviderMeta)
	green := newFakeAdapter(tdomain.ProviderGreenAPI)
	registry := provider.NewRegistry(meta, green)

	n := NewPaymentReceiptNotifier(newFakeDirectory(down, up),
		NewOutboundSender(registry, &fakeDeliveries{}, true, time.Second, testLogger()), testLogger())

	err := n.NotifyPaymentReceived(context.Background(), PaymentReceipt{
		VendorID: "V1", OrderID: "O1", CustomerPhone: "221771112233", Amount: "15000 XOF", Reference: "T1",
	})
	require.NoError(t, err)
	assert.Empty(t, meta.Sent())
	require.Len(t, green.Sent(), 1)
	assert.Equal(t, "+221771112233", green.Sent()[0].To)
	assert.Contains(t, green.Sent()[0].Content.Text, "O1")
}

func TestPaymentReceiptNotifier_NoConnectedChannel(t *testing.T) {
	n := NewPaymentReceiptNotifier(newFakeDirectory(), nil, testLogger())
	err := n.NotifyPaymentReceived(context.Background(), PaymentReceipt{VendorID: "V9", OrderID: "O1", CustomerPhone: "+221771112233"})
	assert.ErrorIs(t, err, ErrNoConnectedChannel)

	err = n.NotifyPaymentReceived(context.Background(), PaymentReceipt{VendorID: "V9", OrderID: "O1", CustomerPhone: "n/a"})
	assert.Error(t, err)
}
