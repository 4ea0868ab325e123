// Package telemetry exposes Prometheus instrumentation for the sync core.
// A Metrics value is constructed once and passed by reference to the
// components that record on it; tests build isolated instances.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	SendAttempts prometheus.Counter
	SendFailures prometheus.Counter
	AcksOK       prometheus.Counter
	AcksError    *prometheus.CounterVec // code
	AckTimeouts  prometheus.Counter
	Retries      prometheus.Counter

	PayloadsDropped *prometheus.CounterVec // topic
	QueueDropped    prometheus.Counter

	MergedMessages prometheus.Gauge
	TimelineSize   prometheus.Gauge
	SnapshotBlocks prometheus.Gauge
}

// New registers the core collectors on reg. A nil reg builds collectors on
// a private registry, which keeps recording safe but unexported.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		SendAttempts: f.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_send_attempts_total",
			Help: "Event send attempts, including retries.",
		}),
		SendFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_send_failures_total",
			Help: "Transport send errors counted as failed attempts.",
		}),
		AcksOK: f.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_acks_ok_total",
			Help: "Acknowledgements that satisfied the caller's predicate.",
		}),
		AcksError: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatsync_acks_error_total",
			Help: "Acknowledgements carrying an error, by code.",
		}, []string{"code"}),
		AckTimeouts: f.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_ack_timeouts_total",
			Help: "Attempts that expired waiting for an acknowledgement.",
		}),
		Retries: f.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_send_retries_total",
			Help: "Backoff retries performed after a failed attempt.",
		}),
		PayloadsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatsync_payloads_dropped_total",
			Help: "Inbound payloads dropped as malformed or unrecognized, by topic.",
		}, []string{"topic"}),
		QueueDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_queue_dropped_total",
			Help: "Deliveries dropped by the bounded inbound queue.",
		}),
		MergedMessages: f.NewGauge(prometheus.GaugeOpts{
			Name: "chatsync_merged_messages",
			Help: "Size of the merged conversation view.",
		}),
		TimelineSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "chatsync_timeline_events",
			Help: "Size of the merged timeline store.",
		}),
		SnapshotBlocks: f.NewGauge(prometheus.GaugeOpts{
			Name: "chatsync_snapshot_blocks",
			Help: "UI block snapshots currently retained.",
		}),
	}
}

// Nop returns metrics recording to a private registry. Handy default for
// constructors that accept an optional *Metrics.
func Nop() *Metrics { return New(nil) }
