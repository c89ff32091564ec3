// Package sync reconciles classified webhook events against stored
// conversation and message state, computes field-level deltas, and decides
// which domain events to emit.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/aster/pkg/database"
	"github.com/Ramsey-B/aster/pkg/enrichment"
	"github.com/Ramsey-B/aster/pkg/events"
	"github.com/Ramsey-B/aster/pkg/metrics"
	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/tracing"
	"github.com/Ramsey-B/aster/pkg/zendesk"
)

// Analytics metric identities emitted alongside conversation changes
const (
	MetricConversationAssigned  = "conversation_assigned"
	MetricConversationCompleted = "conversation_completed"

	aggregationCount = "count"
	windowInstant    = "instant"
)

// ConversationStore persists conversations. Implemented by the conversation
// repository.
type ConversationStore interface {
	Upsert(ctx context.Context, conv *models.Conversation) error
	GetByID(ctx context.Context, id string) (*models.Conversation, error)
}

// MessageStore persists messages. Implemented by the message repository.
type MessageStore interface {
	Upsert(ctx context.Context, msg *models.Message) error
	GetByID(ctx context.Context, id string) (*models.Message, error)
}

// Synchronizer applies classified webhook events to stored state and emits
// the resulting domain events. Persistence failures are logged and counted
// but never stop the publish stage: an event that cannot be stored is still
// forwarded downstream rather than silently dropped.
type Synchronizer struct {
	conversations ConversationStore
	messages      MessageStore
	emitter       *events.Emitter
	triggers      *enrichment.Triggers
	logger        ectologger.Logger
}

// NewSynchronizer creates a new conversation synchronizer
func NewSynchronizer(
	conversations ConversationStore,
	messages MessageStore,
	emitter *events.Emitter,
	triggers *enrichment.Triggers,
	logger ectologger.Logger,
) *Synchronizer {
	return &Synchronizer{
		conversations: conversations,
		messages:      messages,
		emitter:       emitter,
		triggers:      triggers,
		logger:        logger,
	}
}

// Synchronize applies one classified event. Returns an error only for an
// event variant it does not know how to handle; every expected path,
// including store failures, completes with nil.
func (s *Synchronizer) Synchronize(ctx context.Context, inst *models.Installation, event zendesk.Event) error {
	ctx, span := tracing.StartSpan(ctx, "Synchronizer.Synchronize")
	defer span.End()

	switch ev := event.(type) {
	case *zendesk.TicketEvent:
		if ev.Action == zendesk.TicketActionCreated {
			s.applyTicketCreated(ctx, ev)
		} else {
			s.applyTicketChanged(ctx, ev)
		}
		return nil
	case *zendesk.CommentEvent:
		s.applyComment(ctx, inst, ev)
		return nil
	case *zendesk.UnknownEvent:
		s.applyUnknown(ctx, ev)
		return nil
	default:
		return fmt.Errorf("unhandled webhook event variant %T", event)
	}
}

// applyTicketCreated upserts the conversation and, when the ticket carries
// an initial description, synthesizes the first customer message. Both ids
// are deterministic, so replaying the same event converges on the same rows.
func (s *Synchronizer) applyTicketCreated(ctx context.Context, ev *zendesk.TicketEvent) {
	ctx, span := tracing.StartSpan(ctx, "Synchronizer.applyTicketCreated")
	defer span.End()

	conv := conversationFromTicket(&ev.Envelope, &ev.Current)
	if err := s.conversations.Upsert(ctx, conv); err != nil {
		s.storeFailure(ctx, err, "conversation_upsert", ev)
	}
	s.emitter.EmitConversationCreated(ctx, conv)

	if ev.Current.Description == "" {
		return
	}

	msg := descriptionMessage(conv, &ev.Current)
	if err := s.messages.Upsert(ctx, msg); err != nil {
		s.storeFailure(ctx, err, "message_upsert", ev)
	}
	s.emitter.EmitMessageCreated(ctx, conv.Subdomain, msg)
}

// applyTicketChanged upserts the conversation, emits the field-level delta
// against the previous snapshot, and fires analytics for assignment changes
// and transitions into a terminal status.
func (s *Synchronizer) applyTicketChanged(ctx context.Context, ev *zendesk.TicketEvent) {
	ctx, span := tracing.StartSpan(ctx, "Synchronizer.applyTicketChanged")
	defer span.End()

	conv := conversationFromTicket(&ev.Envelope, &ev.Current)
	if err := s.conversations.Upsert(ctx, conv); err != nil {
		s.storeFailure(ctx, err, "conversation_upsert", ev)
	}

	delta := computeDelta(ev.Previous, &ev.Current)
	s.emitter.EmitConversationUpdated(ctx, conv, delta)

	if _, changed := delta["assignee"]; changed {
		s.emitter.EmitAnalytics(ctx, conv.Subdomain, conv.ID, MetricConversationAssigned, 1, aggregationCount, windowInstant)
	}

	if conv.Status.IsTerminal() && !previousTerminal(ev.Previous) {
		s.emitter.EmitAnalytics(ctx, conv.Subdomain, conv.ID, MetricConversationCompleted, 1, aggregationCount, windowInstant)
	}
}

// applyComment upserts the message under the conversation named by the
// envelope subject, creating a minimal conversation record on first sight of
// the ticket reference.
func (s *Synchronizer) applyComment(ctx context.Context, inst *models.Installation, ev *zendesk.CommentEvent) {
	ctx, span := tracing.StartSpan(ctx, "Synchronizer.applyComment")
	defer span.End()

	conv := s.ensureConversation(ctx, ev)
	msg := messageFromComment(conv.ID, &ev.Current)

	// Edits never recompute the sender; keep whatever classification the
	// original comment got.
	if ev.Action == zendesk.CommentActionUpdated {
		if stored, err := s.messages.GetByID(ctx, msg.ID); err == nil {
			msg.Sender = stored.Sender
			msg.Channel = stored.Channel
		}
	}

	if err := s.messages.Upsert(ctx, msg); err != nil {
		s.storeFailure(ctx, err, "message_upsert", ev)
	}

	switch ev.Action {
	case zendesk.CommentActionCreated:
		s.emitter.EmitMessageCreated(ctx, ev.Subdomain(), msg)
		s.triggers.RequestEnrichment(ctx, inst, msg)
	case zendesk.CommentActionUpdated:
		s.emitter.EmitMessageUpdated(ctx, ev.Subdomain(), msg)
	}
}

// applyUnknown forwards an unrecognized event type opaquely as a generic
// WEBHOOK event
func (s *Synchronizer) applyUnknown(ctx context.Context, ev *zendesk.UnknownEvent) {
	ctx, span := tracing.StartSpan(ctx, "Synchronizer.applyUnknown")
	defer span.End()

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"event_id":   ev.EventID(),
		"event_type": ev.Type(),
	}).Info("Forwarding unrecognized webhook event")

	s.emitter.EmitWebhook(ctx, ev.Subdomain(), ev.Type(), json.RawMessage(ev.Raw), "")
}

// ensureConversation resolves the conversation a comment belongs to. First
// sight of a ticket reference creates a minimal record; no conversation
// event is emitted for it, the comment's own events carry the news.
func (s *Synchronizer) ensureConversation(ctx context.Context, ev *zendesk.CommentEvent) *models.Conversation {
	id := conversationID(ev.Envelope.Subject)

	conv, err := s.conversations.GetByID(ctx, id)
	if err == nil {
		return conv
	}
	if !isNotFound(err) {
		s.storeFailure(ctx, err, "conversation_get", ev)
	}

	conv = &models.Conversation{
		ID:        id,
		Subdomain: ev.Subdomain(),
		TicketID:  ev.Envelope.Subject,
		Status:    models.StatusOpen,
		Tags:      database.NewJSONB([]string{}),
		Metadata:  database.NewJSONB(map[string]any{}),
	}
	if senderFromComment(&ev.Current) == models.SenderCustomer && ev.Current.AuthorID != 0 {
		conv.CustomerID = strconv.FormatInt(ev.Current.AuthorID, 10)
	}

	if err := s.conversations.Upsert(ctx, conv); err != nil {
		s.storeFailure(ctx, err, "conversation_upsert", ev)
	}

	return conv
}

// storeFailure logs a persistence failure and keeps processing; the event
// still reaches the publish stage
func (s *Synchronizer) storeFailure(ctx context.Context, err error, operation string, event zendesk.Event) {
	s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
		"event_id":   event.EventID(),
		"event_type": event.Type(),
	}).Errorf("Store failure during %s, continuing to publish", operation)
	metrics.RecordStoreFailure(operation)
}

func previousTerminal(previous *zendesk.TicketPayload) bool {
	if previous == nil {
		return false
	}
	return models.StatusFromZendesk(previous.Status).IsTerminal()
}

func isNotFound(err error) bool {
	return httperror.IsHTTPError(err) && httperror.GetStatusCode(err) == http.StatusNotFound
}
