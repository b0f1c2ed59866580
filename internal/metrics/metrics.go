package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whgw_events_recorded_total",
			Help: "Events written to the outbox by type",
		},
		[]string{"event_type"},
	)

	EventsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whgw_events_dispatched_total",
			Help: "Events fanned out by the dispatcher",
		},
		[]string{"result"}, // matched | unmatched | error
	)

	DeliveriesCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "whgw_deliveries_created_total",
			Help: "Delivery rows created by the dispatcher",
		},
	)

	DeliveryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whgw_delivery_attempts_total",
			Help: "Outbound delivery attempts by outcome",
		},
		[]string{"outcome"}, // delivered | retrying | failed | deferred
	)

	DeliveryLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "whgw_delivery_latency_seconds",
			Help:    "Latency of outbound webhook requests",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 11),
		},
	)

	ClaimConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "whgw_delivery_claim_conflicts_total",
			Help: "Claims lost to another worker",
		},
	)

	LeasesReclaimed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "whgw_delivery_leases_reclaimed_total",
			Help: "In-flight deliveries returned to the retry pool by the sweeper",
		},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		EventsRecorded,
		EventsDispatched,
		DeliveriesCreated,
		DeliveryAttempts,
		DeliveryLatency,
		ClaimConflicts,
		LeasesReclaimed,
	)
}
