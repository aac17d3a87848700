package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var degradedOperations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "whatsgate",
		Subsystem: "cache",
		Name:      "degraded_operations_total",
		Help:      "Cache operations served by the local store because the primary backend failed.",
	},
	[]string{"operation"},
)
