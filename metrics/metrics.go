// Package metrics exposes Prometheus counters for the ledger services.
// Scraped via the /metrics endpoint when enabled.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DepletionRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_depletion_runs_total",
		Help: "Completed depletion engine runs.",
	})

	EventsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_ledger_events_created_total",
		Help: "Ledger events created, by event kind.",
	}, []string{"kind"})

	UnmappedRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_depletion_unmapped_total",
		Help: "Sales records with no effective item mapping.",
	})

	UnresolvedTaps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_depletion_unresolved_total",
		Help: "Draft sales with no keg resolvable at sale time.",
	})

	SessionCloses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_session_closes_total",
		Help: "Counting sessions closed.",
	})

	Corrections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_corrections_total",
		Help: "Reversal+replacement correction pairs posted.",
	})
)
