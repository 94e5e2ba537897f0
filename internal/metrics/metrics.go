// Package metrics exposes the operational counters and gauges the
// `/stats` REST endpoint doesn't cover: a Prometheus scrape surface for
// intake throughput, tracker cycle duration, webhook delivery outcomes,
// and backfill progress.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector this service registers. A single
// instance is constructed at startup and threaded into the components
// that observe it.
type Metrics struct {
	IntakeFramesTotal      *prometheus.CounterVec
	TrackerCycleDuration    prometheus.Histogram
	TrackerCycleTotal      *prometheus.CounterVec
	WebhookDeliveriesTotal *prometheus.CounterVec
	BackfillAddressesTotal *prometheus.CounterVec
	BackfillEntriesTotal   prometheus.Counter
}

// New constructs and registers every collector against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IntakeFramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "address_tracker",
			Subsystem: "intake",
			Name:      "frames_total",
			Help:      "Raw transaction frames processed by intake, partitioned by outcome.",
		}, []string{"outcome"}),
		TrackerCycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "address_tracker",
			Subsystem: "tracker",
			Name:      "cycle_duration_seconds",
			Help:      "Wall-clock duration of one confirmation tracker cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
		TrackerCycleTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "address_tracker",
			Subsystem: "tracker",
			Name:      "cycles_total",
			Help:      "Confirmation tracker cycles, partitioned by outcome.",
		}, []string{"outcome"}),
		WebhookDeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "address_tracker",
			Subsystem: "webhook",
			Name:      "deliveries_total",
			Help:      "Webhook delivery attempts, partitioned by outcome.",
		}, []string{"status"}),
		BackfillAddressesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "address_tracker",
			Subsystem: "backfill",
			Name:      "addresses_total",
			Help:      "Addresses processed by historical backfill, partitioned by outcome.",
		}, []string{"outcome"}),
		BackfillEntriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "address_tracker",
			Subsystem: "backfill",
			Name:      "entries_total",
			Help:      "Historical transaction entries ingested by backfill.",
		}),
	}

	reg.MustRegister(
		m.IntakeFramesTotal,
		m.TrackerCycleDuration,
		m.TrackerCycleTotal,
		m.WebhookDeliveriesTotal,
		m.BackfillAddressesTotal,
		m.BackfillEntriesTotal,
	)
	return m
}
