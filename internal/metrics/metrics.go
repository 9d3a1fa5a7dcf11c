package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Verification metrics
	VerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_verifications_total",
			Help: "Total number of inbound signature verifications",
		},
		[]string{"outcome"},
	)

	// Registry metrics
	RegistryCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_registry_cache_hits_total",
			Help: "Total number of registry cache hits",
		},
	)

	RegistryCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_registry_cache_misses_total",
			Help: "Total number of registry cache misses",
		},
	)

	RegistryLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_registry_lookups_total",
			Help: "Total number of remote registry lookups",
		},
		[]string{"status"},
	)

	RegistryLookupDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gateway_registry_lookup_duration_seconds",
			Help:    "Duration of remote registry lookups in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Idempotency metrics
	IdempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_idempotency_hits_total",
			Help: "Total number of replayed messages served from the idempotency store",
		},
	)

	IdempotencyEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_idempotency_entries",
			Help: "Current number of entries in the idempotency store",
		},
	)

	// Callback metrics
	CallbackAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_callback_attempts_total",
			Help: "Total number of outbound callback attempts",
		},
		[]string{"type", "result"},
	)

	CallbackDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gateway_callback_duration_seconds",
			Help:    "Duration of outbound callback attempts in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Processing metrics
	ProcessingQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_processing_queue_depth",
			Help: "Current depth of the background processing queue",
		},
	)

	ProcessingTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_processing_total",
			Help: "Total number of background processing runs",
		},
		[]string{"action", "result"},
	)
)
