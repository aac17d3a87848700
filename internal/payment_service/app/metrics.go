package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var paymentWebhooksTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "whatsgate_payment_webhooks_total",
		Help: "Payment webhooks by provider and outcome.",
	},
	[]string{"provider", "outcome"},
)
