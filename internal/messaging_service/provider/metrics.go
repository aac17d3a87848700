package provider

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	providerRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "whatsgate_provider_request_duration_seconds",
			Help:    "Duration of outbound provider API requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	providerSendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whatsgate_provider_send_errors_total",
			Help: "Failed provider sends by provider and error kind.",
		},
		[]string{"provider", "kind"},
	)
)
