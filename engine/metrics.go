package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retrieval_requests_total",
		Help: "Engine requests by operation and outcome.",
	}, []string{"op", "outcome"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "retrieval_request_duration_seconds",
		Help:    "End-to-end engine request latency by operation.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"op"})

	blendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retrieval_query_blends_total",
		Help: "Query embeddings built, by blend type.",
	}, []string{"type"})

	profileCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retrieval_profile_cache_lookups_total",
		Help: "Long-term profile cache lookups by result.",
	}, []string{"result"})

	interactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retrieval_interactions_total",
		Help: "Interaction events recorded, by type.",
	}, []string{"type"})

	rebuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retrieval_index_rebuilds_total",
		Help: "Index rebuilds by outcome.",
	}, []string{"outcome"})

	indexedItems = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "retrieval_indexed_items",
		Help: "Items in the active index snapshot.",
	})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "retrieval_active_sessions",
		Help: "User sessions currently tracked in memory.",
	})
)

const (
	outcomeOK    = "ok"
	outcomeError = "error"
)
