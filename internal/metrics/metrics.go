// Package metrics holds the Prometheus instruments shared by the API and the
// worker.  All collectors are registered with the global registry, so serving
// promhttp.Handler() is enough to expose them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WebhookEventsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_received_total",
			Help: "Webhook deliveries accepted by the HTTP endpoint, by outcome.",
		}, []string{"outcome"})

	EventsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_processed_total",
			Help: "Queued webhook events handled by the worker, by outcome.",
		}, []string{"outcome"})

	EventRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_event_retries_total",
			Help: "Retries of whole webhook events after transient failures.",
		})

	EventsDeadLettered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_dead_lettered_total",
			Help: "Events moved to the dead letter after exhausting retries, by backend.",
		}, []string{"backend"})

	DispatchOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dm_dispatch_total",
			Help: "Direct message dispatch attempts, by final status.",
		}, []string{"status"})

	SpamDetections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spam_comments_total",
			Help: "Comments classified as spam, by moderation outcome.",
		}, []string{"outcome"})

	QuotaRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_rejections_total",
			Help: "Check-and-increment calls rejected by plan limits, by metric.",
		}, []string{"metric"})

	GatewayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "graph_api_request_duration_seconds",
			Help:    "Latency of platform Graph API calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "status"})
)

func init() {
	prometheus.MustRegister(
		WebhookEventsReceived,
		EventsProcessed,
		EventRetries,
		EventsDeadLettered,
		DispatchOutcomes,
		SpamDetections,
		QuotaRejections,
		GatewayDuration,
	)
}
