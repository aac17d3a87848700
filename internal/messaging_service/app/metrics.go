package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	inboundOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whatsgate_inbound_messages_total",
			Help: "Inbound webhook events by provider and processing outcome.",
		},
		[]string{"provider", "outcome"},
	)

	outboundDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whatsgate_outbound_deliveries_total",
			Help: "Outbound deliveries by final provider, status and whether the fallback route was used.",
		},
		[]string{"provider", "status", "fallback"},
	)

	channelStatusChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whatsgate_channel_status_changes_total",
			Help: "Connection status transitions applied by the status monitor or pushed events.",
		},
		[]string{"provider", "status"},
	)
)
