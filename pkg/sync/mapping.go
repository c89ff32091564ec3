package sync

import (
	"fmt"
	"strconv"

	"github.com/Ramsey-B/aster/pkg/database"
	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/zendesk"
)

const conversationIDPrefix = "zendesk-"

// conversationID derives the deterministic conversation id for an external
// ticket id. Replayed events for the same ticket address the same record.
func conversationID(ticketID string) string {
	return conversationIDPrefix + ticketID
}

// descriptionMessageID derives the id of the message synthesized from a
// ticket's initial description
func descriptionMessageID(ticketID string) string {
	return fmt.Sprintf("zendesk-ticket-%s-description", ticketID)
}

// commentMessageID derives the deterministic message id for an external
// comment id
func commentMessageID(commentID string) string {
	return "zendesk-comment-" + commentID
}

// conversationFromTicket maps a ticket snapshot onto the conversation record
func conversationFromTicket(envelope *zendesk.Envelope, ticket *zendesk.TicketPayload) *models.Conversation {
	conv := &models.Conversation{
		ID:        conversationID(ticket.TicketID()),
		Subdomain: envelope.Account.Subdomain,
		TicketID:  ticket.TicketID(),
		Status:    models.StatusFromZendesk(ticket.Status),
		Tags:      database.NewJSONB(normalizeTags(ticket.Tags)),
		Metadata:  database.NewJSONB(ticketMetadata(ticket)),
	}

	if ticket.RequesterID != 0 {
		conv.CustomerID = strconv.FormatInt(ticket.RequesterID, 10)
	}
	if ticket.AssigneeID != nil {
		agent := strconv.FormatInt(*ticket.AssigneeID, 10)
		conv.AgentID = &agent
	}
	if ticket.Subject != "" {
		subject := ticket.Subject
		conv.Subject = &subject
	}
	if ticket.Priority != "" {
		priority := ticket.Priority
		conv.Priority = &priority
	}

	return conv
}

// descriptionMessage synthesizes the initial customer message from a
// ticket's description, attributed to the requester
func descriptionMessage(conv *models.Conversation, ticket *zendesk.TicketPayload) *models.Message {
	msg := &models.Message{
		ID:             descriptionMessageID(ticket.TicketID()),
		ConversationID: conv.ID,
		Content:        ticket.Description,
		Sender:         models.SenderCustomer,
		Metadata: database.NewJSONB(map[string]any{
			"authorId":    conv.CustomerID,
			"synthesized": true,
		}),
	}

	if ticket.Via != nil && ticket.Via.Channel != "" {
		channel := ticket.Via.Channel
		msg.Channel = &channel
	}

	return msg
}

// senderFromComment classifies the author: public comments map to AGENT,
// private comments to CUSTOMER.
// TODO: confirm with product that public=>AGENT is intended; customers
// cannot normally author private notes, so the mapping reads inverted.
func senderFromComment(comment *zendesk.CommentPayload) models.MessageSender {
	if comment.Public {
		return models.SenderAgent
	}
	return models.SenderCustomer
}

// messageFromComment maps a comment snapshot onto the message record
func messageFromComment(conversationID string, comment *zendesk.CommentPayload) *models.Message {
	msg := &models.Message{
		ID:             commentMessageID(comment.CommentID()),
		ConversationID: conversationID,
		Content:        comment.Body,
		Sender:         senderFromComment(comment),
		Metadata: database.NewJSONB(map[string]any{
			"authorId": strconv.FormatInt(comment.AuthorID, 10),
			"public":   comment.Public,
		}),
	}

	if comment.Via != nil && comment.Via.Channel != "" {
		channel := comment.Via.Channel
		msg.Channel = &channel
	}

	return msg
}

func normalizeTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	normalized := make([]string, len(tags))
	copy(normalized, tags)
	return normalized
}

func ticketMetadata(ticket *zendesk.TicketPayload) map[string]any {
	metadata := map[string]any{
		"externalStatus": ticket.Status,
	}
	if ticket.Via != nil && ticket.Via.Channel != "" {
		metadata["channel"] = ticket.Via.Channel
	}
	if ticket.CreatedAt != "" {
		metadata["externalCreatedAt"] = ticket.CreatedAt
	}
	if ticket.UpdatedAt != "" {
		metadata["externalUpdatedAt"] = ticket.UpdatedAt
	}
	return metadata
}
