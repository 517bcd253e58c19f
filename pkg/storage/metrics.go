package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreOperations tracks load and save calls by backend and result.
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clanwatch_storage_operations_total",
			Help: "Total roster storage operations by backend, operation and result",
		},
		[]string{"backend", "operation", "result"}, // result: "ok", "error"
	)

	// RecordsSkipped tracks rows or records dropped while loading.
	RecordsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clanwatch_storage_records_skipped_total",
			Help: "Total roster records skipped on load by backend",
		},
		[]string{"backend"},
	)

	// RosterSize tracks the number of clans in the last load or save.
	RosterSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "clanwatch_storage_roster_clans",
			Help: "Number of clans in the last loaded or saved roster",
		},
		[]string{"backend"},
	)
)

func observe(backend, operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	StoreOperations.WithLabelValues(backend, operation, result).Inc()
}
