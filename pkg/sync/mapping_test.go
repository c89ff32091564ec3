package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/zendesk"
)

func TestDerivedIDs(t *testing.T) {
	assert.Equal(t, "zendesk-123", conversationID("123"))
	assert.Equal(t, "zendesk-ticket-123-description", descriptionMessageID("123"))
	assert.Equal(t, "zendesk-comment-456", commentMessageID("456"))
}

func TestConversationFromTicket(t *testing.T) {
	assignee := int64(42)
	envelope := &zendesk.Envelope{
		ID:             "w1",
		EventType:      "ticket.created",
		EventTimestamp: "2024-01-01T00:00:00Z",
		Account:        zendesk.Account{Subdomain: "acme"},
	}
	ticket := &zendesk.TicketPayload{
		ID:          123,
		RequesterID: 7,
		AssigneeID:  &assignee,
		Status:      "pending",
		Priority:    "high",
		Subject:     "Printer on fire",
		Tags:        []string{"hardware"},
		Via:         &zendesk.Via{Channel: "email"},
		CreatedAt:   "2024-01-01T00:00:00Z",
	}

	conv := conversationFromTicket(envelope, ticket)

	assert.Equal(t, "zendesk-123", conv.ID)
	assert.Equal(t, "acme", conv.Subdomain)
	assert.Equal(t, "123", conv.TicketID)
	assert.Equal(t, "7", conv.CustomerID)
	require.NotNil(t, conv.AgentID)
	assert.Equal(t, "42", *conv.AgentID)
	assert.Equal(t, models.StatusWaiting, conv.Status)
	require.NotNil(t, conv.Subject)
	assert.Equal(t, "Printer on fire", *conv.Subject)
	require.NotNil(t, conv.Priority)
	assert.Equal(t, "high", *conv.Priority)
	assert.Equal(t, []string{"hardware"}, conv.Tags.Data)
	assert.Equal(t, "pending", conv.Metadata.Data["externalStatus"])
	assert.Equal(t, "email", conv.Metadata.Data["channel"])
	assert.Equal(t, "2024-01-01T00:00:00Z", conv.Metadata.Data["externalCreatedAt"])
}

func TestConversationFromTicketMinimal(t *testing.T) {
	envelope := &zendesk.Envelope{Account: zendesk.Account{Subdomain: "acme"}}
	ticket := &zendesk.TicketPayload{ID: 5, Status: "new"}

	conv := conversationFromTicket(envelope, ticket)

	assert.Equal(t, "zendesk-5", conv.ID)
	assert.Empty(t, conv.CustomerID)
	assert.Nil(t, conv.AgentID)
	assert.Nil(t, conv.Subject)
	assert.Nil(t, conv.Priority)
	// Tags normalize to an empty slice, not nil, so JSONB writes []
	assert.NotNil(t, conv.Tags.Data)
	assert.Empty(t, conv.Tags.Data)
}

func TestDescriptionMessage(t *testing.T) {
	conv := &models.Conversation{ID: "zendesk-123", CustomerID: "7"}
	ticket := &zendesk.TicketPayload{
		ID:          123,
		Description: "help",
		Via:         &zendesk.Via{Channel: "web"},
	}

	msg := descriptionMessage(conv, ticket)

	assert.Equal(t, "zendesk-ticket-123-description", msg.ID)
	assert.Equal(t, "zendesk-123", msg.ConversationID)
	assert.Equal(t, "help", msg.Content)
	assert.Equal(t, models.SenderCustomer, msg.Sender)
	assert.Equal(t, "7", msg.Metadata.Data["authorId"])
	assert.Equal(t, true, msg.Metadata.Data["synthesized"])
	require.NotNil(t, msg.Channel)
	assert.Equal(t, "web", *msg.Channel)
}

func TestMessageFromComment(t *testing.T) {
	comment := &zendesk.CommentPayload{
		ID:       456,
		AuthorID: 9,
		Body:     "thanks",
		Public:   true,
		Via:      &zendesk.Via{Channel: "email"},
	}

	msg := messageFromComment("zendesk-123", comment)

	assert.Equal(t, "zendesk-comment-456", msg.ID)
	assert.Equal(t, "zendesk-123", msg.ConversationID)
	assert.Equal(t, "thanks", msg.Content)
	assert.Equal(t, models.SenderAgent, msg.Sender)
	assert.Equal(t, "9", msg.Metadata.Data["authorId"])
	assert.Equal(t, true, msg.Metadata.Data["public"])
}

func TestSenderFromComment(t *testing.T) {
	assert.Equal(t, models.SenderAgent, senderFromComment(&zendesk.CommentPayload{Public: true}))
	assert.Equal(t, models.SenderCustomer, senderFromComment(&zendesk.CommentPayload{Public: false}))
}
