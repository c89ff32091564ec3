package zendesk

import (
	"encoding/json"
	"strconv"
)

// Envelope is the outer webhook payload Zendesk delivers. Subject carries the
// external ticket reference on comment events.
type Envelope struct {
	ID             string  `json:"id"`
	EventType      string  `json:"event_type"`
	EventTimestamp string  `json:"event_timestamp"`
	Account        Account `json:"account"`
	Subject        string  `json:"subject,omitempty"`
	Body           Body    `json:"body"`
}

type Account struct {
	Subdomain string `json:"subdomain"`
}

// Body holds the variant payloads. They stay raw until the event type is
// known, then parse against the matching schema.
type Body struct {
	Current  json.RawMessage `json:"current"`
	Previous json.RawMessage `json:"previous,omitempty"`
}

// Via describes the channel a ticket or comment arrived through.
type Via struct {
	Channel string `json:"channel,omitempty"`
}

// TicketPayload is the ticket snapshot carried by ticket.* events.
type TicketPayload struct {
	ID          int64    `json:"id"`
	RequesterID int64    `json:"requester_id"`
	AssigneeID  *int64   `json:"assignee_id,omitempty"`
	Status      string   `json:"status"`
	Priority    string   `json:"priority,omitempty"`
	Subject     string   `json:"subject,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Via         *Via     `json:"via,omitempty"`
	CreatedAt   string   `json:"created_at,omitempty"`
	UpdatedAt   string   `json:"updated_at,omitempty"`
}

// TicketID renders the numeric ticket id as the string used in derived
// conversation ids.
func (p TicketPayload) TicketID() string {
	return strconv.FormatInt(p.ID, 10)
}

// CommentPayload is the comment snapshot carried by comment.* events. Public
// flags visibility: true means the comment is visible to the end user.
type CommentPayload struct {
	ID        int64  `json:"id"`
	AuthorID  int64  `json:"author_id"`
	Body      string `json:"body"`
	Public    bool   `json:"public"`
	Via       *Via   `json:"via,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// CommentID renders the numeric comment id as the string used in derived
// message ids.
func (p CommentPayload) CommentID() string {
	return strconv.FormatInt(p.ID, 10)
}
