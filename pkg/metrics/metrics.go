package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OpenRooms tracks rooms currently present in the registry, including
	// rooms inside their eviction grace window.
	OpenRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "synapse_open_rooms",
			Help: "Number of rooms in the registry",
		},
	)

	// OpenConnections tracks live WebSocket connections across all rooms.
	OpenConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "synapse_open_connections",
			Help: "Number of attached client connections",
		},
	)

	// MessagesRelayed counts inbound protocol messages by kind
	// (sync_step1|sync_step2|update|awareness).
	MessagesRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synapse_messages_relayed_total",
			Help: "Total number of protocol messages processed",
		},
		[]string{"kind"},
	)

	// DecodeErrors counts frames dropped because they could not be decoded.
	DecodeErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "synapse_decode_errors_total",
			Help: "Total number of malformed frames dropped",
		},
	)

	// RoomsEvicted counts rooms removed after their grace window expired.
	RoomsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "synapse_rooms_evicted_total",
			Help: "Total number of empty rooms evicted from the registry",
		},
	)

	// EvictionChecks counts deferred emptiness re-checks, fired or not.
	// Duplicate checks for one room are expected and harmless.
	EvictionChecks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "synapse_eviction_checks_total",
			Help: "Total number of scheduled room eviction checks",
		},
	)

	// APILatency measures HTTP request latencies on the side-channel surface.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "synapse_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
