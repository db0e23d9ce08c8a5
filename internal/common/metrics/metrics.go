// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_dispatches_total",
			Help: "Notification dispatch runs by result",
		},
		[]string{"result"}, // ok, missing_item, unconfigured, no_recipients
	)

	RecipientSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_recipient_sends_total",
			Help: "Per-recipient gateway sends by outcome",
		},
		[]string{"outcome"}, // success, failure
	)

	DispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notifier_dispatch_duration_seconds",
			Help:    "Wall time of one dispatch run",
			Buckets: prometheus.DefBuckets,
		},
	)

	BroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_broadcasts_total",
			Help: "Broadcast calls by event type",
		},
		[]string{"event_type"},
	)

	BroadcastPushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_broadcast_pushes_total",
			Help: "Per-connection pushes by outcome",
		},
		[]string{"outcome"}, // delivered, pruned
	)

	ActiveConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notifier_active_connections",
			Help: "Registered subscriber connections by scope kind",
		},
		[]string{"scope"}, // item, admin
	)

	RelayMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_relay_messages_total",
			Help: "Cross-instance relay traffic",
		},
		[]string{"direction", "outcome"},
	)

	TriggerJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_trigger_jobs_total",
			Help: "Zeebe trigger jobs by task type and result",
		},
		[]string{"task_type", "result"},
	)

	TriggerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "notifier_trigger_job_duration_seconds",
			Help: "Duration of trigger job processing in seconds",
		},
		[]string{"task_type"},
	)
)
