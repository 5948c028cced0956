// Package someipdmetrics exposes Prometheus metrics for the RemoteServer
// subsystem, following the same GaugeVec/CounterVec shape as
// internal/bfd/metrics.Collector in the teacher repo.
package someipdmetrics

import "github.com/prometheus/client_golang/prometheus"

const (
	namespace = "someipd"
	subsystem = "remoteserver"
)

// Label names.
const (
	labelService    = "service_id"
	labelInstance   = "instance_id"
	labelEventgroup = "eventgroup_id"
	labelFromState  = "from_state"
	labelToState    = "to_state"
	labelProtocol   = "protocol"
)

// Collector holds all RemoteServer Prometheus metrics.
type Collector struct {
	// SubscriptionState tracks each eventgroup's current FSM state as a
	// gauge (1 for the active state, 0 otherwise is impractical for an
	// enum; instead this gauge holds the numeric EventgroupFSMState value
	// itself, matching a common Prometheus idiom for small enums).
	SubscriptionState *prometheus.GaugeVec

	// SubscriptionTransitions counts eventgroup FSM transitions, labeled by
	// from/to state, mirroring bfdmetrics.Collector.StateTransitions.
	SubscriptionTransitions *prometheus.CounterVec

	// SDEntriesSent counts SD entries transmitted, labeled by entry kind.
	SDEntriesSent *prometheus.CounterVec

	// SDEntriesReceived counts SD entries received, labeled by entry kind.
	SDEntriesReceived *prometheus.CounterVec

	// ConnectionTransitions counts per-protocol connection state changes.
	ConnectionTransitions *prometheus.CounterVec

	// MulticastJoins counts multicast group join operations.
	MulticastJoins *prometheus.CounterVec

	// MulticastLeaves counts multicast group leave operations.
	MulticastLeaves *prometheus.CounterVec

	// MalformedMessages counts SD messages rejected by the wire codec.
	MalformedMessages prometheus.Counter
}

// NewCollector creates a Collector and registers its metrics against reg.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.SubscriptionState,
		c.SubscriptionTransitions,
		c.SDEntriesSent,
		c.SDEntriesReceived,
		c.ConnectionTransitions,
		c.MulticastJoins,
		c.MulticastLeaves,
		c.MalformedMessages,
	)

	return c
}

func newMetrics() *Collector {
	egLabels := []string{labelService, labelInstance, labelEventgroup}
	transitionLabels := append(append([]string{}, egLabels...), labelFromState, labelToState)
	entryLabels := []string{labelService, labelInstance, "entry_type"}
	connLabels := []string{labelService, labelInstance, labelProtocol, labelFromState, labelToState}
	mcastLabels := []string{labelService, labelInstance, labelEventgroup}

	return &Collector{
		SubscriptionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "subscription_state",
			Help:      "Current EventgroupFSM state (0=ServiceDown, 1=NotSubscribed, 2=SubscriptionPending, 3=Subscribed).",
		}, egLabels),

		SubscriptionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "subscription_transitions_total",
			Help:      "Number of EventgroupFSM state transitions.",
		}, transitionLabels),

		SDEntriesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sd_entries_sent_total",
			Help:      "Number of SD entries transmitted, by entry type.",
		}, entryLabels),

		SDEntriesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sd_entries_received_total",
			Help:      "Number of SD entries received, by entry type.",
		}, entryLabels),

		ConnectionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connection_transitions_total",
			Help:      "Number of per-protocol connection state changes.",
		}, connLabels),

		MulticastJoins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "multicast_joins_total",
			Help:      "Number of multicast group join operations.",
		}, mcastLabels),

		MulticastLeaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "multicast_leaves_total",
			Help:      "Number of multicast group leave operations.",
		}, mcastLabels),

		MalformedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "malformed_messages_total",
			Help:      "Number of SD messages rejected by the wire codec.",
		}),
	}
}
