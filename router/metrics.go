package router

import "github.com/prometheus/client_golang/prometheus"

var (
	messagesRoutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccrouter_messages_routed_total",
			Help: "Total number of messages accepted by route(), by message type.",
		},
		[]string{"type"},
	)

	messagesQueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccrouter_messages_queued_total",
			Help: "Total number of messages held in the per-recipient queue for lack of a route.",
		},
		[]string{"type"},
	)

	messagesEvictedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccrouter_messages_evicted_total",
			Help: "Total number of messages evicted from a capacity-bounded queue.",
		},
		[]string{"queue", "reason"},
	)

	messagesDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccrouter_messages_dropped_total",
			Help: "Total number of messages dropped terminally, by reason.",
		},
		[]string{"reason"},
	)

	transmitRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccrouter_transmit_retries_total",
			Help: "Total number of rescheduled transmit attempts, by reason.",
		},
		[]string{"reason"},
	)

	aclVerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccrouter_acl_verdicts_total",
			Help: "Total access-control verdicts observed, by verdict and audit override.",
		},
		[]string{"verdict", "overridden"},
	)

	transportParkedGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ccrouter_transport_parked_messages",
			Help: "Current number of messages parked behind an unavailable transport.",
		},
		[]string{"transport"},
	)

	routingTableSizeGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ccrouter_routing_table_entries",
			Help: "Current number of entries in the routing table.",
		},
	)

	messageQueueSizeGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ccrouter_message_queue_entries",
			Help: "Current number of messages held in the per-recipient queue.",
		},
	)
)

func init() {
	prometheus.MustRegister(messagesRoutedTotal)
	prometheus.MustRegister(messagesQueuedTotal)
	prometheus.MustRegister(messagesEvictedTotal)
	prometheus.MustRegister(messagesDroppedTotal)
	prometheus.MustRegister(transmitRetriesTotal)
	prometheus.MustRegister(aclVerdictsTotal)
	prometheus.MustRegister(transportParkedGauge)
	prometheus.MustRegister(routingTableSizeGauge)
	prometheus.MustRegister(messageQueueSizeGauge)
}
