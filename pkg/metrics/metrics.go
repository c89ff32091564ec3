// Package metrics provides Prometheus metrics for the Aster service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookEventsTotal tracks inbound webhook events by type and outcome
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aster",
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Total number of inbound webhook events by type and outcome",
		},
		[]string{"event_type", "outcome"},
	)

	// WebhookProcessingDuration tracks end-to-end webhook processing duration
	WebhookProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "aster",
			Subsystem: "webhook",
			Name:      "processing_duration_seconds",
			Help:      "Duration of webhook event processing in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"event_type"},
	)

	// SignatureFailuresTotal tracks rejected webhook signatures
	SignatureFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "aster",
			Subsystem: "webhook",
			Name:      "signature_failures_total",
			Help:      "Total number of webhook deliveries rejected for a bad signature",
		},
	)

	// SyncStoreFailuresTotal tracks conversation/message upserts that failed
	// but did not fail the request
	SyncStoreFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aster",
			Subsystem: "sync",
			Name:      "store_failures_total",
			Help:      "Total number of conversation store failures recovered during sync",
		},
		[]string{"operation"},
	)

	// DomainEventsPublished tracks domain events handed to the broker
	DomainEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aster",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of domain events published by type and status",
		},
		[]string{"event_type", "status"},
	)

	// KafkaPublishDuration tracks broker publish duration
	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "aster",
			Subsystem: "events",
			Name:      "publish_duration_seconds",
			Help:      "Duration of Kafka publish operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
	)

	// TokenGrantsTotal tracks token issuance by grant type and status
	TokenGrantsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aster",
			Subsystem: "auth",
			Name:      "token_grants_total",
			Help:      "Total number of token grants by grant type and status",
		},
		[]string{"grant_type", "status"},
	)

	// TokenVerificationsTotal tracks access token verifications
	TokenVerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aster",
			Subsystem: "auth",
			Name:      "token_verifications_total",
			Help:      "Total number of access token verifications by result",
		},
		[]string{"result"},
	)

	// DatabaseQueryDuration tracks database query duration
	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "aster",
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Duration of database queries in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)

	// DirectoryCacheHits tracks installation directory lookups by cache layer
	DirectoryCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aster",
			Subsystem: "directory",
			Name:      "lookups_total",
			Help:      "Total number of installation directory lookups by source",
		},
		[]string{"source"},
	)
)

// RecordWebhookEvent records an inbound webhook event and its processing time
func RecordWebhookEvent(eventType, outcome string, durationSeconds float64) {
	WebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
	WebhookProcessingDuration.WithLabelValues(eventType).Observe(durationSeconds)
}

// RecordDomainEvent records a domain event publish attempt
func RecordDomainEvent(eventType, status string) {
	DomainEventsPublished.WithLabelValues(eventType, status).Inc()
}

// RecordTokenGrant records a token grant attempt
func RecordTokenGrant(grantType, status string) {
	TokenGrantsTotal.WithLabelValues(grantType, status).Inc()
}

// RecordStoreFailure records a recovered conversation store failure
func RecordStoreFailure(operation string) {
	SyncStoreFailuresTotal.WithLabelValues(operation).Inc()
}
