// Package events defines the normalized domain events published for
// downstream consumption and the Kafka machinery that carries them.
package events

import (
	"time"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// SourceZendesk marks events originating from Zendesk webhook traffic
const SourceZendesk = "zendesk"

// Domain event types
const (
	TypeConversationCreated = "CONVERSATION_CREATED"
	TypeConversationUpdated = "CONVERSATION_UPDATED"
	TypeMessageCreated      = "MESSAGE_CREATED"
	TypeMessageUpdated      = "MESSAGE_UPDATED"
	TypeAnalyticsComputed   = "ANALYTICS_COMPUTED"
	TypeWebhook             = "WEBHOOK"
)

// DomainEvent is the broker envelope for every outbound event. Payload is
// one of the typed payload structs below, keyed by Type.
type DomainEvent struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	SchemaVersion string    `json:"schemaVersion"`
	Source        string    `json:"source"`
	Subdomain     string    `json:"subdomain"`
	Timestamp     time.Time `json:"timestamp"`
	Payload       any       `json:"payload"`

	// PartitionKey groups related events onto one partition so consumers
	// see them in emission order. Not serialized.
	PartitionKey string `json:"-"`
}

// ConversationPayload is carried by CONVERSATION_CREATED and
// CONVERSATION_UPDATED events
type ConversationPayload struct {
	ConversationID string         `json:"conversationId"`
	TicketID       string         `json:"ticketId"`
	CustomerID     string         `json:"customerId"`
	AgentID        *string        `json:"agentId,omitempty"`
	Status         string         `json:"status"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// MessagePayload is carried by MESSAGE_CREATED and MESSAGE_UPDATED events
type MessagePayload struct {
	MessageID      string         `json:"messageId"`
	ConversationID string         `json:"conversationId"`
	Content        string         `json:"content"`
	Sender         string         `json:"sender"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// AnalyticsPayload is carried by ANALYTICS_COMPUTED events
type AnalyticsPayload struct {
	ConversationID  string  `json:"conversationId"`
	MetricType      string  `json:"metricType"`
	Value           float64 `json:"value"`
	AggregationType string  `json:"aggregationType"`
	TimeWindow      string  `json:"timeWindow"`
}

// WebhookPayload is carried by generic WEBHOOK events: unrecognized inbound
// event types forwarded opaquely, and enrichment request triggers
type WebhookPayload struct {
	Source    string `json:"source"`
	EventType string `json:"eventType"`
	Payload   any    `json:"payload"`
}
