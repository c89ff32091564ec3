package events

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/aster/pkg/metrics"
	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/tracing"
)

// EventWriter publishes serialized domain events to the broker. Implemented
// by Publisher.
type EventWriter interface {
	Publish(ctx context.Context, event *DomainEvent) error
}

// Emitter builds and publishes domain events. Every Emit method is
// best-effort: a publish failure is logged and counted but never surfaces to
// the caller, so a broker outage cannot fail the originating request.
type Emitter struct {
	writer EventWriter
	logger ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(writer EventWriter, logger ectologger.Logger) *Emitter {
	return &Emitter{
		writer: writer,
		logger: logger,
	}
}

// EmitConversationCreated emits a CONVERSATION_CREATED event
func (e *Emitter) EmitConversationCreated(ctx context.Context, conv *models.Conversation) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitConversationCreated")
	defer span.End()

	e.emit(ctx, &DomainEvent{
		Type:         TypeConversationCreated,
		Subdomain:    conv.Subdomain,
		PartitionKey: conv.ID,
		Payload:      conversationPayload(conv, nil),
	})
}

// EmitConversationUpdated emits a CONVERSATION_UPDATED event carrying the
// field-level delta in its metadata
func (e *Emitter) EmitConversationUpdated(ctx context.Context, conv *models.Conversation, delta map[string]any) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitConversationUpdated")
	defer span.End()

	e.emit(ctx, &DomainEvent{
		Type:         TypeConversationUpdated,
		Subdomain:    conv.Subdomain,
		PartitionKey: conv.ID,
		Payload:      conversationPayload(conv, delta),
	})
}

// EmitMessageCreated emits a MESSAGE_CREATED event
func (e *Emitter) EmitMessageCreated(ctx context.Context, subdomain string, msg *models.Message) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitMessageCreated")
	defer span.End()

	e.emit(ctx, &DomainEvent{
		Type:         TypeMessageCreated,
		Subdomain:    subdomain,
		PartitionKey: msg.ConversationID,
		Payload:      messagePayload(msg),
	})
}

// EmitMessageUpdated emits a MESSAGE_UPDATED event
func (e *Emitter) EmitMessageUpdated(ctx context.Context, subdomain string, msg *models.Message) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitMessageUpdated")
	defer span.End()

	e.emit(ctx, &DomainEvent{
		Type:         TypeMessageUpdated,
		Subdomain:    subdomain,
		PartitionKey: msg.ConversationID,
		Payload:      messagePayload(msg),
	})
}

// EmitAnalytics emits an ANALYTICS_COMPUTED event
func (e *Emitter) EmitAnalytics(ctx context.Context, subdomain, conversationID, metricType string, value float64, aggregationType, timeWindow string) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitAnalytics")
	defer span.End()

	e.emit(ctx, &DomainEvent{
		Type:         TypeAnalyticsComputed,
		Subdomain:    subdomain,
		PartitionKey: conversationID,
		Payload: AnalyticsPayload{
			ConversationID:  conversationID,
			MetricType:      metricType,
			Value:           value,
			AggregationType: aggregationType,
			TimeWindow:      timeWindow,
		},
	})
}

// EmitWebhook emits a generic WEBHOOK event: unrecognized inbound types
// forwarded opaquely, and enrichment request triggers
func (e *Emitter) EmitWebhook(ctx context.Context, subdomain, eventType string, payload any, partitionKey string) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitWebhook")
	defer span.End()

	e.emit(ctx, &DomainEvent{
		Type:         TypeWebhook,
		Subdomain:    subdomain,
		PartitionKey: partitionKey,
		Payload: WebhookPayload{
			Source:    SourceZendesk,
			EventType: eventType,
			Payload:   payload,
		},
	})
}

// emit fills in the envelope and publishes, recording the outcome
func (e *Emitter) emit(ctx context.Context, event *DomainEvent) {
	event.ID = uuid.NewString()
	event.SchemaVersion = SchemaVersion
	event.Source = SourceZendesk
	event.Timestamp = time.Now().UTC()

	if err := e.writer.Publish(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"event_type": event.Type,
			"subdomain":  event.Subdomain,
		}).Errorf("Failed to emit %s event", event.Type)
		metrics.RecordDomainEvent(event.Type, "failure")
		return
	}

	metrics.RecordDomainEvent(event.Type, "success")
}

func conversationPayload(conv *models.Conversation, delta map[string]any) ConversationPayload {
	metadata := conv.Metadata.Data
	if delta != nil {
		metadata = make(map[string]any, len(conv.Metadata.Data)+1)
		for k, v := range conv.Metadata.Data {
			metadata[k] = v
		}
		metadata["delta"] = delta
	}

	return ConversationPayload{
		ConversationID: conv.ID,
		TicketID:       conv.TicketID,
		CustomerID:     conv.CustomerID,
		AgentID:        conv.AgentID,
		Status:         string(conv.Status),
		Metadata:       metadata,
	}
}

func messagePayload(msg *models.Message) MessagePayload {
	return MessagePayload{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		Content:        msg.Content,
		Sender:         string(msg.Sender),
		Metadata:       msg.Metadata.Data,
	}
}
