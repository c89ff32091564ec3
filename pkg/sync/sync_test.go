package sync

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/aster/pkg/database"
	"github.com/Ramsey-B/aster/pkg/enrichment"
	"github.com/Ramsey-B/aster/pkg/events"
	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/zendesk"
)

type capturingWriter struct {
	events []*events.DomainEvent
	err    error
}

func (w *capturingWriter) Publish(_ context.Context, event *events.DomainEvent) error {
	if w.err != nil {
		return w.err
	}
	w.events = append(w.events, event)
	return nil
}

func (w *capturingWriter) types() []string {
	types := make([]string, 0, len(w.events))
	for _, event := range w.events {
		types = append(types, event.Type)
	}
	return types
}

type fakeConversationStore struct {
	rows      map[string]*models.Conversation
	upserts   int
	upsertErr error
}

func newFakeConversationStore() *fakeConversationStore {
	return &fakeConversationStore{rows: map[string]*models.Conversation{}}
}

func (s *fakeConversationStore) Upsert(_ context.Context, conv *models.Conversation) error {
	s.upserts++
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.rows[conv.ID] = conv
	return nil
}

func (s *fakeConversationStore) GetByID(_ context.Context, id string) (*models.Conversation, error) {
	conv, ok := s.rows[id]
	if !ok {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "conversation with id '%s' not found", id)
	}
	return conv, nil
}

type fakeMessageStore struct {
	rows      map[string]*models.Message
	upsertErr error
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{rows: map[string]*models.Message{}}
}

func (s *fakeMessageStore) Upsert(_ context.Context, msg *models.Message) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.rows[msg.ID] = msg
	return nil
}

func (s *fakeMessageStore) GetByID(_ context.Context, id string) (*models.Message, error) {
	msg, ok := s.rows[id]
	if !ok {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "message with id '%s' not found", id)
	}
	return msg, nil
}

func newTestSynchronizer(convs *fakeConversationStore, msgs *fakeMessageStore) (*Synchronizer, *capturingWriter) {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	writer := &capturingWriter{}
	emitter := events.NewEmitter(writer, logger)
	triggers := enrichment.NewTriggers(emitter, logger)
	return NewSynchronizer(convs, msgs, emitter, triggers, logger), writer
}

func testInstallation(settings map[string]any) *models.Installation {
	if settings == nil {
		settings = map[string]any{}
	}
	return &models.Installation{
		ID:        "inst-1",
		Subdomain: "acme",
		AppID:     "app-1",
		UserID:    "user-1",
		Settings:  database.NewJSONB(settings),
	}
}

func ticketEvent(action zendesk.TicketAction, current zendesk.TicketPayload, previous *zendesk.TicketPayload) *zendesk.TicketEvent {
	return &zendesk.TicketEvent{
		Envelope: zendesk.Envelope{
			ID:             "w1",
			EventType:      "ticket." + string(action),
			EventTimestamp: "2024-01-01T00:00:00Z",
			Account:        zendesk.Account{Subdomain: "acme"},
		},
		Action:   action,
		Current:  current,
		Previous: previous,
	}
}

func commentEvent(action zendesk.CommentAction, subject string, current zendesk.CommentPayload) *zendesk.CommentEvent {
	return &zendesk.CommentEvent{
		Envelope: zendesk.Envelope{
			ID:             "w2",
			EventType:      "comment." + string(action),
			EventTimestamp: "2024-01-01T00:00:00Z",
			Account:        zendesk.Account{Subdomain: "acme"},
			Subject:        subject,
		},
		Action:  action,
		Current: current,
	}
}

func TestSynchronizeTicketCreated(t *testing.T) {
	convs := newFakeConversationStore()
	msgs := newFakeMessageStore()
	s, writer := newTestSynchronizer(convs, msgs)

	event := ticketEvent(zendesk.TicketActionCreated, zendesk.TicketPayload{
		ID:          123,
		RequesterID: 7,
		Status:      "new",
		Subject:     "Printer on fire",
		Description: "help",
	}, nil)

	err := s.Synchronize(context.Background(), testInstallation(nil), event)
	require.NoError(t, err)

	// Exactly two events, conversation before its first message
	require.Equal(t, []string{events.TypeConversationCreated, events.TypeMessageCreated}, writer.types())

	conv, ok := convs.rows["zendesk-123"]
	require.True(t, ok)
	assert.Equal(t, "acme", conv.Subdomain)
	assert.Equal(t, "123", conv.TicketID)
	assert.Equal(t, "7", conv.CustomerID)
	assert.Equal(t, models.StatusOpen, conv.Status)

	msg, ok := msgs.rows["zendesk-ticket-123-description"]
	require.True(t, ok)
	assert.Equal(t, "zendesk-123", msg.ConversationID)
	assert.Equal(t, "help", msg.Content)
	assert.Equal(t, models.SenderCustomer, msg.Sender)
	assert.Equal(t, true, msg.Metadata.Data["synthesized"])

	payload, ok := writer.events[1].Payload.(events.MessagePayload)
	require.True(t, ok)
	assert.Equal(t, "zendesk-ticket-123-description", payload.MessageID)
	assert.Equal(t, string(models.SenderCustomer), payload.Sender)
}

func TestSynchronizeTicketCreatedWithoutDescription(t *testing.T) {
	convs := newFakeConversationStore()
	msgs := newFakeMessageStore()
	s, writer := newTestSynchronizer(convs, msgs)

	event := ticketEvent(zendesk.TicketActionCreated, zendesk.TicketPayload{ID: 123, Status: "new"}, nil)

	require.NoError(t, s.Synchronize(context.Background(), testInstallation(nil), event))
	assert.Equal(t, []string{events.TypeConversationCreated}, writer.types())
	assert.Empty(t, msgs.rows)
}

func TestSynchronizeTicketCreatedReplayConverges(t *testing.T) {
	convs := newFakeConversationStore()
	msgs := newFakeMessageStore()
	s, _ := newTestSynchronizer(convs, msgs)

	event := ticketEvent(zendesk.TicketActionCreated, zendesk.TicketPayload{
		ID: 123, RequesterID: 7, Status: "new", Description: "help",
	}, nil)

	require.NoError(t, s.Synchronize(context.Background(), testInstallation(nil), event))
	require.NoError(t, s.Synchronize(context.Background(), testInstallation(nil), event))

	// Deterministic ids make the replay an upsert of the same rows
	assert.Len(t, convs.rows, 1)
	assert.Len(t, msgs.rows, 1)
	assert.Equal(t, 2, convs.upserts)
}

func TestSynchronizeTicketChangedEmitsDelta(t *testing.T) {
	convs := newFakeConversationStore()
	msgs := newFakeMessageStore()
	s, writer := newTestSynchronizer(convs, msgs)

	assignee := int64(42)
	event := ticketEvent(zendesk.TicketActionStatusChanged, zendesk.TicketPayload{
		ID:         123,
		Status:     "solved",
		AssigneeID: &assignee,
		Tags:       []string{"billing", "urgent"},
	}, &zendesk.TicketPayload{
		ID:     123,
		Status: "open",
		Tags:   []string{"billing", "stale"},
	})

	require.NoError(t, s.Synchronize(context.Background(), testInstallation(nil), event))

	// Update, assignment analytics, completion analytics, in that order
	require.Equal(t, []string{
		events.TypeConversationUpdated,
		events.TypeAnalyticsComputed,
		events.TypeAnalyticsComputed,
	}, writer.types())

	payload, ok := writer.events[0].Payload.(events.ConversationPayload)
	require.True(t, ok)
	assert.Equal(t, string(models.StatusResolved), payload.Status)

	delta, ok := payload.Metadata["delta"].(map[string]any)
	require.True(t, ok)

	// Delta values carry the external status vocabulary
	assert.Equal(t, FieldChange{From: "open", To: "solved"}, delta["status"])
	assert.Equal(t, FieldChange{From: nil, To: "42"}, delta["assignee"])
	assert.Equal(t, TagChange{Added: []string{"urgent"}, Removed: []string{"stale"}}, delta["tags"])

	assigned, ok := writer.events[1].Payload.(events.AnalyticsPayload)
	require.True(t, ok)
	assert.Equal(t, MetricConversationAssigned, assigned.MetricType)
	assert.Equal(t, float64(1), assigned.Value)

	completed, ok := writer.events[2].Payload.(events.AnalyticsPayload)
	require.True(t, ok)
	assert.Equal(t, MetricConversationCompleted, completed.MetricType)
}

func TestSynchronizeTicketChangedWithoutPreviousEmitsEmptyDelta(t *testing.T) {
	convs := newFakeConversationStore()
	msgs := newFakeMessageStore()
	s, writer := newTestSynchronizer(convs, msgs)

	event := ticketEvent(zendesk.TicketActionUpdated, zendesk.TicketPayload{ID: 123, Status: "open"}, nil)

	require.NoError(t, s.Synchronize(context.Background(), testInstallation(nil), event))
	require.Equal(t, []string{events.TypeConversationUpdated}, writer.types())

	payload := writer.events[0].Payload.(events.ConversationPayload)
	delta, ok := payload.Metadata["delta"].(map[string]any)
	require.True(t, ok)
	assert.Empty(t, delta)
}

func TestSynchronizeTicketChangedCompletionFiresOncePerTransition(t *testing.T) {
	convs := newFakeConversationStore()
	msgs := newFakeMessageStore()
	s, writer := newTestSynchronizer(convs, msgs)

	// solved -> closed stays terminal, no second completion metric
	event := ticketEvent(zendesk.TicketActionStatusChanged, zendesk.TicketPayload{
		ID: 123, Status: "closed",
	}, &zendesk.TicketPayload{
		ID: 123, Status: "solved",
	})

	require.NoError(t, s.Synchronize(context.Background(), testInstallation(nil), event))
	require.Equal(t, []string{events.TypeConversationUpdated}, writer.types())
}

func TestSynchronizeTicketChangedUnmappedStatusFallsBackToOpen(t *testing.T) {
	convs := newFakeConversationStore()
	msgs := newFakeMessageStore()
	s, _ := newTestSynchronizer(convs, msgs)

	event := ticketEvent(zendesk.TicketActionUpdated, zendesk.TicketPayload{ID: 123, Status: "escalated"}, nil)

	require.NoError(t, s.Synchronize(context.Background(), testInstallation(nil), event))

	conv := convs.rows["zendesk-123"]
	require.NotNil(t, conv)
	assert.Equal(t, models.StatusOpen, conv.Status)
	assert.Equal(t, "escalated", conv.Metadata.Data["externalStatus"])
}

func TestSynchronizeCommentCreatedSenderMapping(t *testing.T) {
	tests := []struct {
		name     string
		public   bool
		expected models.MessageSender
	}{
		{name: "public comment maps to agent", public: true, expected: models.SenderAgent},
		{name: "private comment maps to customer", public: false, expected: models.SenderCustomer},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			convs := newFakeConversationStore()
			msgs := newFakeMessageStore()
			s, writer := newTestSynchronizer(convs, msgs)

			event := commentEvent(zendesk.CommentActionCreated, "123", zendesk.CommentPayload{
				ID:       456,
				AuthorID: 9,
				Body:     "thanks",
				Public:   test.public,
			})

			require.NoError(t, s.Synchronize(context.Background(), testInstallation(nil), event))

			msg := msgs.rows["zendesk-comment-456"]
			require.NotNil(t, msg)
			assert.Equal(t, test.expected, msg.Sender)
			require.Equal(t, []string{events.TypeMessageCreated}, writer.types())
		})
	}
}

func TestSynchronizeCommentForUnseenTicketCreatesConversation(t *testing.T) {
	convs := newFakeConversationStore()
	msgs := newFakeMessageStore()
	s, writer := newTestSynchronizer(convs, msgs)

	event := commentEvent(zendesk.CommentActionCreated, "789", zendesk.CommentPayload{
		ID:       456,
		AuthorID: 9,
		Body:     "first contact",
		Public:   false,
	})

	require.NoError(t, s.Synchronize(context.Background(), testInstallation(nil), event))

	conv := convs.rows["zendesk-789"]
	require.NotNil(t, conv)
	assert.Equal(t, "789", conv.TicketID)
	assert.Equal(t, models.StatusOpen, conv.Status)
	assert.Equal(t, "9", conv.CustomerID)

	// The backfilled conversation is plumbing; only the comment's own event
	// goes out.
	assert.Equal(t, []string{events.TypeMessageCreated}, writer.types())
}

func TestSynchronizeCommentUpdatedPreservesStoredSender(t *testing.T) {
	convs := newFakeConversationStore()
	msgs := newFakeMessageStore()
	s, writer := newTestSynchronizer(convs, msgs)

	channel := "email"
	msgs.rows["zendesk-comment-456"] = &models.Message{
		ID:             "zendesk-comment-456",
		ConversationID: "zendesk-123",
		Content:        "original",
		Sender:         models.SenderCustomer,
		Channel:        &channel,
	}

	// The edit flips public, which would reclassify the sender on a create
	event := commentEvent(zendesk.CommentActionUpdated, "123", zendesk.CommentPayload{
		ID:       456,
		AuthorID: 9,
		Body:     "edited",
		Public:   true,
	})

	require.NoError(t, s.Synchronize(context.Background(), testInstallation(nil), event))

	msg := msgs.rows["zendesk-comment-456"]
	assert.Equal(t, "edited", msg.Content)
	assert.Equal(t, models.SenderCustomer, msg.Sender)
	require.NotNil(t, msg.Channel)
	assert.Equal(t, "email", *msg.Channel)
	assert.Equal(t, []string{events.TypeMessageUpdated}, writer.types())
}

func TestSynchronizeCommentCreatedEnrichmentGating(t *testing.T) {
	tests := []struct {
		name     string
		settings map[string]any
		public   bool
		expected []string
	}{
		{
			name:     "no settings, message only",
			settings: nil,
			public:   false,
			expected: []string{events.TypeMessageCreated},
		},
		{
			name:     "sentiment enabled",
			settings: map[string]any{models.SettingSentimentEnabled: true},
			public:   false,
			expected: []string{events.TypeMessageCreated, events.TypeWebhook},
		},
		{
			name: "both enabled for customer message",
			settings: map[string]any{
				models.SettingSentimentEnabled:   true,
				models.SettingSuggestionsEnabled: true,
			},
			public:   false,
			expected: []string{events.TypeMessageCreated, events.TypeWebhook, events.TypeWebhook},
		},
		{
			name: "agent messages never request suggestions",
			settings: map[string]any{
				models.SettingSentimentEnabled:   true,
				models.SettingSuggestionsEnabled: true,
			},
			public:   true,
			expected: []string{events.TypeMessageCreated, events.TypeWebhook},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			convs := newFakeConversationStore()
			msgs := newFakeMessageStore()
			s, writer := newTestSynchronizer(convs, msgs)

			event := commentEvent(zendesk.CommentActionCreated, "123", zendesk.CommentPayload{
				ID:       456,
				AuthorID: 9,
				Body:     "hello",
				Public:   test.public,
			})

			require.NoError(t, s.Synchronize(context.Background(), testInstallation(test.settings), event))
			assert.Equal(t, test.expected, writer.types())
		})
	}
}

func TestSynchronizeCommentUpdatedNeverTriggersEnrichment(t *testing.T) {
	convs := newFakeConversationStore()
	msgs := newFakeMessageStore()
	s, writer := newTestSynchronizer(convs, msgs)

	inst := testInstallation(map[string]any{
		models.SettingSentimentEnabled:   true,
		models.SettingSuggestionsEnabled: true,
	})

	event := commentEvent(zendesk.CommentActionUpdated, "123", zendesk.CommentPayload{
		ID: 456, AuthorID: 9, Body: "edited", Public: false,
	})

	require.NoError(t, s.Synchronize(context.Background(), inst, event))
	assert.Equal(t, []string{events.TypeMessageUpdated}, writer.types())
}

func TestSynchronizeStoreFailureStillPublishes(t *testing.T) {
	convs := newFakeConversationStore()
	convs.upsertErr = errors.New("connection refused")
	msgs := newFakeMessageStore()
	msgs.upsertErr = errors.New("connection refused")
	s, writer := newTestSynchronizer(convs, msgs)

	event := ticketEvent(zendesk.TicketActionCreated, zendesk.TicketPayload{
		ID: 123, RequesterID: 7, Status: "new", Description: "help",
	}, nil)

	err := s.Synchronize(context.Background(), testInstallation(nil), event)
	require.NoError(t, err)
	assert.Equal(t, []string{events.TypeConversationCreated, events.TypeMessageCreated}, writer.types())
}

func TestSynchronizeUnknownEventForwardsOpaquely(t *testing.T) {
	convs := newFakeConversationStore()
	msgs := newFakeMessageStore()
	s, writer := newTestSynchronizer(convs, msgs)

	raw := []byte(`{"id":"w9","event_type":"organization.created","account":{"subdomain":"acme"}}`)
	event := &zendesk.UnknownEvent{
		Envelope: zendesk.Envelope{
			ID:             "w9",
			EventType:      "organization.created",
			EventTimestamp: "2024-01-01T00:00:00Z",
			Account:        zendesk.Account{Subdomain: "acme"},
		},
		Raw: raw,
	}

	require.NoError(t, s.Synchronize(context.Background(), testInstallation(nil), event))
	require.Equal(t, []string{events.TypeWebhook}, writer.types())

	payload, ok := writer.events[0].Payload.(events.WebhookPayload)
	require.True(t, ok)
	assert.Equal(t, "organization.created", payload.EventType)
	assert.Equal(t, events.SourceZendesk, payload.Source)

	// Untouched rows and untouched payload bytes
	assert.Empty(t, convs.rows)
	assert.Empty(t, msgs.rows)
}

func TestSynchronizePublishFailureDoesNotFailRequest(t *testing.T) {
	convs := newFakeConversationStore()
	msgs := newFakeMessageStore()
	s, writer := newTestSynchronizer(convs, msgs)
	writer.err = errors.New("broker unreachable")

	event := ticketEvent(zendesk.TicketActionCreated, zendesk.TicketPayload{ID: 123, Status: "new"}, nil)

	err := s.Synchronize(context.Background(), testInstallation(nil), event)
	require.NoError(t, err)
	assert.Contains(t, convs.rows, "zendesk-123")
}
