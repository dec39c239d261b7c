// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_jobs_enqueued_total",
			Help: "Total number of notification jobs accepted into the queue",
		},
		[]string{"tenant", "channel", "type"},
	)

	JobsDeduplicated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_jobs_deduplicated_total",
			Help: "Total number of enqueue calls collapsed onto an existing job",
		},
		[]string{"tenant", "channel", "type"},
	)

	JobsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_jobs_sent_total",
			Help: "Total number of jobs successfully handed to a provider",
		},
		[]string{"tenant", "channel"},
	)

	JobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_jobs_failed_total",
			Help: "Total number of failed send attempts",
		},
		[]string{"tenant", "channel", "error_code"},
	)

	JobsDead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_jobs_dead_total",
			Help: "Total number of jobs moved to the dead-letter state",
		},
		[]string{"tenant", "channel", "error_code"},
	)

	SendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "dispatch_send_duration_seconds",
			Help: "Duration of provider send calls in seconds",
		},
		[]string{"channel"},
	)

	QueueDepthPending = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dispatch_queue_pending",
			Help: "Number of jobs waiting to become visible or be leased",
		},
		[]string{"tenant"},
	)

	QueueDepthInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dispatch_queue_in_flight",
			Help: "Number of currently leased jobs",
		},
		[]string{"tenant"},
	)

	InboundCallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbound_callbacks_total",
			Help: "Total number of provider callbacks received",
		},
		[]string{"channel", "outcome"},
	)

	DomainEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbound_domain_events_total",
			Help: "Total number of domain events emitted to the business layer",
		},
		[]string{"event"},
	)
)
