package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncRuns counts finished sync runs by resource type and final status.
	SyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_runs_total",
		Help: "Finished sync runs by sync type and final status.",
	}, []string{"sync_type", "status"})

	// SyncItems counts per-item outcomes inside sync runs.
	SyncItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_items_total",
		Help: "Processed items by sync type and outcome.",
	}, []string{"sync_type", "outcome"})

	// Translations counts reference translation attempts by outcome.
	Translations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reference_translations_total",
		Help: "GID reference translations by outcome.",
	}, []string{"outcome"})

	// UnmappedReferences counts references recorded into the unmapped ledger.
	UnmappedReferences = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unmapped_references_total",
		Help: "References recorded as unmapped during translation.",
	})

	// ThrottleWaits counts throttled GraphQL calls that waited and retried.
	ThrottleWaits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shopify_throttle_waits_total",
		Help: "GraphQL calls delayed by the shop's cost throttle.",
	})
)
