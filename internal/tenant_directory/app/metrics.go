package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var directoryLookupsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "whatsgate",
		Subsystem: "tenant_directory",
		Name:      "lookups_total",
		Help:      "Tenant directory lookups by key type and result (hit, miss, not_found, error).",
	},
	[]string{"key_type", "result"},
)
