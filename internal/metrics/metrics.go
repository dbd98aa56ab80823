package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	SlotTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomslots_slot_transitions_total",
			Help: "Committed slot state transitions",
		},
		[]string{"transition"}, // reserve|confirm|cancel|expire|close|reopen
	)

	OutboxPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomslots_outbox_published_total",
			Help: "Outbox entries delivered to the message channel",
		},
		[]string{"topic"},
	)

	OutboxPublishFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomslots_outbox_publish_failures_total",
			Help: "Failed publish attempts; terminal=true when the entry became FAILED",
		},
		[]string{"topic", "terminal"},
	)

	OutboxPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomslots_outbox_pending",
			Help: "PENDING outbox entries observed by the last drain",
		},
	)

	SchedulerRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomslots_scheduler_runs_total",
			Help: "Scheduled job runs by outcome",
		},
		[]string{"job", "outcome"}, // ok|error|skipped
	)

	InboundEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomslots_inbound_events_total",
			Help: "Consumed inbound events by outcome",
		},
		[]string{"event_type", "outcome"}, // ok|retried|dlq
	)

	SlotsGeneratedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "roomslots_slots_generated_total",
			Help: "Slots created by generation",
		},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		SlotTransitionsTotal,
		OutboxPublishedTotal,
		OutboxPublishFailuresTotal,
		OutboxPending,
		SchedulerRunsTotal,
		InboundEventsTotal,
		SlotsGeneratedTotal,
	}
}

// MustRegister registers every collector on r. Collectors already registered
// on r are skipped, so serve and worker can share a process.
func MustRegister(r prometheus.Registerer) {
	for _, c := range collectors() {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			panic(err)
		}
	}
}
