// Package enrichment requests sentiment and suggestion analysis for stored
// messages from the downstream AI service, gated on installation policy.
package enrichment

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/aster/pkg/events"
	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/tracing"
)

// Enrichment request event types, carried as generic WEBHOOK events
const (
	EventSentimentRequested  = "sentiment.requested"
	EventSuggestionRequested = "suggestion.requested"
)

// Triggers fires enrichment requests. Like every downstream emission these
// are best-effort; a dropped request is logged, never surfaced.
type Triggers struct {
	emitter *events.Emitter
	logger  ectologger.Logger
}

// NewTriggers creates a new enrichment trigger set
func NewTriggers(emitter *events.Emitter, logger ectologger.Logger) *Triggers {
	return &Triggers{
		emitter: emitter,
		logger:  logger,
	}
}

// RequestEnrichment emits the enrichment requests the installation's policy
// allows for a stored message. Sentiment runs on every message; suggestions
// only make sense for customer messages, so agent messages never request
// them.
func (t *Triggers) RequestEnrichment(ctx context.Context, inst *models.Installation, msg *models.Message) {
	ctx, span := tracing.StartSpan(ctx, "enrichment.Triggers.RequestEnrichment")
	defer span.End()

	if inst == nil || msg == nil {
		return
	}

	if inst.SentimentEnabled() {
		t.logger.WithContext(ctx).Debugf("Requesting sentiment analysis for message %s", msg.ID)
		t.emitter.EmitWebhook(ctx, inst.Subdomain, EventSentimentRequested, requestPayload(msg), msg.ConversationID)
	}

	if inst.SuggestionsEnabled() && msg.Sender == models.SenderCustomer {
		t.logger.WithContext(ctx).Debugf("Requesting response suggestion for message %s", msg.ID)
		t.emitter.EmitWebhook(ctx, inst.Subdomain, EventSuggestionRequested, requestPayload(msg), msg.ConversationID)
	}
}

func requestPayload(msg *models.Message) map[string]any {
	return map[string]any{
		"messageId":      msg.ID,
		"conversationId": msg.ConversationID,
		"content":        msg.Content,
		"sender":         string(msg.Sender),
	}
}
