package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks Control API request latency.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "stark",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// SchedulingAttemptsTotal counts scheduling pipeline outcomes by result
// (bound, no_candidates, insufficient_resources, quota_exceeded, ...).
var SchedulingAttemptsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "stark",
		Subsystem: "scheduler",
		Name:      "attempts_total",
		Help:      "Total scheduling attempts by outcome.",
	},
	[]string{"outcome"},
)

// SchedulingBindDuration tracks the latency of the filter->score->bind pipeline.
var SchedulingBindDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "stark",
		Subsystem: "scheduler",
		Name:      "bind_duration_seconds",
		Help:      "Duration of a single pod scheduling pass.",
		Buckets:   prometheus.DefBuckets,
	},
)

// NodesByStatus reports the current gauge of nodes per lifecycle status.
var NodesByStatus = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "stark",
		Subsystem: "registry",
		Name:      "nodes",
		Help:      "Current number of nodes by status.",
	},
	[]string{"status"},
)

// ReconcileDuration tracks service reconcile pass latency.
var ReconcileDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "stark",
		Subsystem: "reconciler",
		Name:      "pass_duration_seconds",
		Help:      "Duration of a single service reconcile pass.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"namespace"},
)

// RollbacksTotal counts auto-rollback events triggered by crash-loop detection.
var RollbacksTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "stark",
		Subsystem: "reconciler",
		Name:      "rollbacks_total",
		Help:      "Total automatic rollbacks triggered by crash-loop detection.",
	},
	[]string{"service"},
)

// AgentConnections is the current gauge of live agent websocket connections.
var AgentConnections = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "stark",
		Subsystem: "agent",
		Name:      "connections",
		Help:      "Current number of live agent connections.",
	},
)

// RouteResolutionsTotal counts route-resolution outcomes (allowed/denied).
var RouteResolutionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "stark",
		Subsystem: "routing",
		Name:      "resolutions_total",
		Help:      "Total route resolutions by decision.",
	},
	[]string{"decision"},
)

// EventBusPublishedTotal counts events published on the bus by topic.
var EventBusPublishedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "stark",
		Subsystem: "eventbus",
		Name:      "published_total",
		Help:      "Total events published by topic.",
	},
	[]string{"topic"},
)

// All returns every Stark-specific collector, for registration alongside the
// Go/process collectors and HTTPRequestDuration in NewMetricsRegistry.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		SchedulingAttemptsTotal,
		SchedulingBindDuration,
		NodesByStatus,
		ReconcileDuration,
		RollbacksTotal,
		AgentConnections,
		RouteResolutionsTotal,
		EventBusPublishedTotal,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process collectors,
// the shared HTTPRequestDuration metric, and any additional collectors passed in.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}
