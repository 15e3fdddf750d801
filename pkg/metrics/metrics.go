package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Overlay metrics
	PeersConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hookio_peers_connected",
			Help: "Number of child hooks currently connected to this node",
		},
	)

	EventsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookio_events_emitted_total",
			Help: "Total number of events emitted by scope (local, parent, child)",
		},
		[]string{"scope"},
	)

	EventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hookio_events_dropped_total",
			Help: "Total number of events not forwarded to a child lacking interest",
		},
	)

	// RPC metrics
	RPCCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookio_rpc_calls_total",
			Help: "Total number of remote calls by method and status",
		},
		[]string{"method", "status"},
	)

	RPCCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hookio_rpc_call_duration_seconds",
			Help:    "Remote call round trip in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Discovery metrics
	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookio_queries_total",
			Help: "Total number of discovery queries by criterion",
		},
		[]string{"by"},
	)

	DNSLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookio_dns_lookups_total",
			Help: "Total number of host resolutions by source (literal, cache, dns, system)",
		},
		[]string{"source"},
	)

	// Supervision metrics
	SpawnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookio_spawns_total",
			Help: "Total number of spawned children by mode",
		},
		[]string{"mode"},
	)

	ChildRestarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hookio_child_restarts_total",
			Help: "Total number of supervised child restarts",
		},
	)

	JournalWrites = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hookio_journal_writes_total",
			Help: "Total number of events appended to the journal",
		},
	)
)

func init() {
	prometheus.MustRegister(PeersConnected)
	prometheus.MustRegister(EventsEmitted)
	prometheus.MustRegister(EventsDropped)
	prometheus.MustRegister(RPCCallsTotal)
	prometheus.MustRegister(RPCCallDuration)
	prometheus.MustRegister(QueriesTotal)
	prometheus.MustRegister(DNSLookups)
	prometheus.MustRegister(SpawnsTotal)
	prometheus.MustRegister(ChildRestarts)
	prometheus.MustRegister(JournalWrites)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
