package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Clock metrics
	CycleCurrent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cortex_cycle_current",
			Help: "Current logical clock cycle",
		},
	)

	TicksDelayed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cortex_ticks_delayed",
			Help: "Ticks delayed so far by an open sync window",
		},
	)

	// Registry metrics
	ModulesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cortex_modules_total",
			Help: "Registered modules by state",
		},
		[]string{"state"},
	)

	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cortex_workers_total",
			Help: "Registered workers by lifecycle state",
		},
		[]string{"state"},
	)

	SystemHealth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cortex_system_health",
			Help: "Fraction of modules currently healthy",
		},
	)

	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortex_alerts_total",
			Help: "Alerts raised by severity",
		},
		[]string{"severity"},
	)

	// Sync metrics
	PulsesEmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cortex_pulses_emitted_total",
			Help: "Sync pulses broadcast to the fleet",
		},
	)

	SyncMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cortex_sync_misses_total",
			Help: "Targets that failed to acknowledge a pulse within the window",
		},
	)

	StaleAcksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cortex_stale_acks_total",
			Help: "Acknowledgements discarded for a non-current cycle",
		},
	)

	// Health monitor metrics
	ChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortex_health_checks_total",
			Help: "Health checks by outcome",
		},
		[]string{"outcome"},
	)

	CheckLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cortex_health_check_latency_seconds",
			Help:    "Health check round-trip latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Recovery metrics
	IsolationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cortex_isolations_total",
			Help: "Module isolation transitions",
		},
	)

	RecoveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortex_recoveries_total",
			Help: "Recovery attempts by outcome",
		},
		[]string{"outcome"},
	)

	// Broadcast metrics
	PredicatesBroadcastTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cortex_predicates_broadcast_total",
			Help: "Predicates fanned out to the fleet",
		},
	)

	PredicatesQueuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cortex_predicates_queued_total",
			Help: "Predicates queued by the rate limiter",
		},
	)

	BroadcastAcksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cortex_broadcast_acks_total",
			Help: "Worker acknowledgements collected across broadcasts",
		},
	)

	// Lifecycle metrics
	SunsetsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cortex_worker_sunsets_total",
			Help: "Workers retired through the sunset procedure",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(CycleCurrent)
	prometheus.MustRegister(TicksDelayed)
	prometheus.MustRegister(ModulesTotal)
	prometheus.MustRegister(WorkersTotal)
	prometheus.MustRegister(SystemHealth)
	prometheus.MustRegister(AlertsTotal)
	prometheus.MustRegister(PulsesEmittedTotal)
	prometheus.MustRegister(SyncMissesTotal)
	prometheus.MustRegister(StaleAcksTotal)
	prometheus.MustRegister(ChecksTotal)
	prometheus.MustRegister(CheckLatency)
	prometheus.MustRegister(IsolationsTotal)
	prometheus.MustRegister(RecoveriesTotal)
	prometheus.MustRegister(PredicatesBroadcastTotal)
	prometheus.MustRegister(PredicatesQueuedTotal)
	prometheus.MustRegister(BroadcastAcksTotal)
	prometheus.MustRegister(SunsetsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
