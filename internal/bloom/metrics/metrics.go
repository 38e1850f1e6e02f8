// Package metrics exposes the module's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FilterAdds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "octobloom_filter_adds_total",
		Help: "The total number of values added to filters",
	})

	// MembershipChecks outcomes: "maybe", "negative", "fail_open".
	MembershipChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "octobloom_membership_checks_total",
		Help: "The total number of probabilistic membership checks by outcome",
	}, []string{"outcome"})

	VerdictCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "octobloom_verdict_cache_hits_total",
		Help: "The total number of verified-existence answers served from cache",
	})

	StoreLookups = promauto.NewCounter(prometheus.CounterOpts{
		Name: "octobloom_store_lookups_total",
		Help: "The total number of exact lookups delegated to the record store",
	})

	// Rebuilds reasons: "drift", "invalid", "manual", "init".
	Rebuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "octobloom_rebuilds_total",
		Help: "The total number of filter rebuilds by reason",
	}, []string{"reason"})

	RebuildFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "octobloom_rebuild_failures_total",
		Help: "The total number of failed filter rebuilds",
	})

	RegisteredFilters = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "octobloom_registered_filters",
		Help: "The number of currently registered filters",
	})
)
