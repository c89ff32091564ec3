package models

import (
	"time"

	"github.com/Ramsey-B/aster/pkg/database"
)

// ConversationStatus is the internal status vocabulary.
type ConversationStatus string

const (
	StatusOpen     ConversationStatus = "OPEN"
	StatusWaiting  ConversationStatus = "WAITING"
	StatusOnHold   ConversationStatus = "ON_HOLD"
	StatusResolved ConversationStatus = "RESOLVED"
	StatusClosed   ConversationStatus = "CLOSED"
)

// statusMap translates the Zendesk ticket status vocabulary. Unmapped values
// fall back to OPEN.
var statusMap = map[string]ConversationStatus{
	"new":     StatusOpen,
	"open":    StatusOpen,
	"pending": StatusWaiting,
	"hold":    StatusOnHold,
	"solved":  StatusResolved,
	"closed":  StatusClosed,
}

// StatusFromZendesk maps an external ticket status onto the internal enum.
func StatusFromZendesk(status string) ConversationStatus {
	if mapped, ok := statusMap[status]; ok {
		return mapped
	}
	return StatusOpen
}

// IsTerminal reports whether the status marks the conversation as finished.
func (s ConversationStatus) IsTerminal() bool {
	return s == StatusResolved || s == StatusClosed
}

// Conversation is the normalized representation of one support ticket. The id
// is derived from the external ticket id so replayed events converge on the
// same record.
type Conversation struct {
	ID         string                         `db:"id" json:"id"`
	Subdomain  string                         `db:"subdomain" json:"subdomain"`
	TicketID   string                         `db:"ticket_id" json:"ticket_id"`
	CustomerID string                         `db:"customer_id" json:"customer_id"`
	AgentID    *string                        `db:"agent_id" json:"agent_id,omitempty"`
	Status     ConversationStatus             `db:"status" json:"status"`
	Subject    *string                        `db:"subject" json:"subject,omitempty"`
	Priority   *string                        `db:"priority" json:"priority,omitempty"`
	Tags       database.JSONB[[]string]       `db:"tags" json:"tags"`
	Metadata   database.JSONB[map[string]any] `db:"metadata" json:"metadata,omitempty"`
	CreatedAt  time.Time                      `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time                      `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (Conversation) TableName() string {
	return "conversations"
}
