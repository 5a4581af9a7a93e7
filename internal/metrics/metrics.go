// Package metrics exposes Prometheus collectors for the swarm. Collectors
// are registered once at init and served by the admin API on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Bus metrics
	BusPendingMessages = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "novaos_bus_pending_messages",
			Help: "Undelivered messages currently queued per recipient agent",
		},
		[]string{"agent"},
	)

	MessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novaos_bus_messages_sent_total",
			Help: "Messages enqueued on the bus by type and priority",
		},
		[]string{"type", "priority"},
	)

	MessagesDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novaos_bus_messages_delivered_total",
			Help: "Messages delivered to and acknowledged by consumers",
		},
		[]string{"agent"},
	)

	GCRowsRemoved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novaos_bus_gc_rows_removed_total",
			Help: "Rows removed by garbage collection by category",
		},
		[]string{"category"},
	)

	// Decision engine metrics
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novaos_decisions_total",
			Help: "Decisions produced by the engine by type, tier, and outcome",
		},
		[]string{"type", "tier", "outcome"},
	)

	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "novaos_decision_cycle_duration_seconds",
			Help:    "Wall time of one full decision cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	ApprovalsPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "novaos_approvals_pending",
			Help: "Decisions currently waiting for operator approval",
		},
	)

	// Supervisor metrics
	HandlerPanics = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novaos_handler_panics_total",
			Help: "Recovered panics in message handlers by handler route",
		},
		[]string{"handler"},
	)

	PostsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novaos_posts_published_total",
			Help: "Outbound publications by destination",
		},
		[]string{"destination"},
	)

	// Swarm metrics
	AgentsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "novaos_agents",
			Help: "Registered agents by heartbeat status",
		},
		[]string{"status"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(BusPendingMessages)
	prometheus.MustRegister(MessagesSent)
	prometheus.MustRegister(MessagesDelivered)
	prometheus.MustRegister(GCRowsRemoved)
	prometheus.MustRegister(DecisionsTotal)
	prometheus.MustRegister(CycleDuration)
	prometheus.MustRegister(ApprovalsPending)
	prometheus.MustRegister(HandlerPanics)
	prometheus.MustRegister(PostsPublished)
	prometheus.MustRegister(AgentsByStatus)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
