// Package metrics declares the Prometheus collectors the sweeper and
// reconciliation detector publish. Grounded in the pack's
// internal/telemetry/metrics.go (package-level collector vars + an All()
// registration helper).
package metrics

import "github.com/prometheus/client_golang/prometheus"

var SweepPassesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "clawops",
		Subsystem: "sweeper",
		Name:      "passes_total",
		Help:      "Total number of sweeper passes by phase.",
	},
	[]string{"phase"},
)

var SweepItemsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "clawops",
		Subsystem: "sweeper",
		Name:      "items_total",
		Help:      "Total number of items processed by the sweeper, by phase and outcome.",
	},
	[]string{"phase", "outcome"},
)

var SweepPassDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "clawops",
		Subsystem: "sweeper",
		Name:      "pass_duration_seconds",
		Help:      "Sweeper pass duration in seconds, by phase.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"phase"},
)

var SloBreachedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "clawops",
		Name:      "slo_breached_total",
		Help:      "Total number of SLO breach signals, by kind.",
	},
	[]string{"kind"},
)

var ReconciliationDriftTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "clawops",
		Name:      "reconciliation_drift_total",
		Help:      "Total number of reconciliation drift findings, by entity kind.",
	},
	[]string{"entity_kind"},
)

var LoadShedEmergencyActive = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "clawops",
		Subsystem: "sweeper",
		Name:      "load_shed_emergency_active",
		Help:      "1 while a project's now-urgency decision backlog exceeds the emergency threshold.",
	},
	[]string{"project_id"},
)

var ReplayEventsAppliedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "clawops",
		Subsystem: "replay",
		Name:      "events_applied_total",
		Help:      "Total number of events applied by the replay engine, by read model.",
	},
	[]string{"model"},
)

// All returns every collector for registration against a prometheus.Registerer.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		SweepPassesTotal,
		SweepItemsTotal,
		SweepPassDuration,
		SloBreachedTotal,
		ReconciliationDriftTotal,
		LoadShedEmergencyActive,
		ReplayEventsAppliedTotal,
	}
}
