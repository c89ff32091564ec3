package models

import (
	"time"

	"github.com/Ramsey-B/aster/pkg/database"
)

// MessageSender classifies who authored a message.
type MessageSender string

const (
	SenderAgent    MessageSender = "AGENT"
	SenderCustomer MessageSender = "CUSTOMER"
)

// Message is one comment within a Conversation. The id is derived from the
// external comment id, so replayed comment events address the same row.
type Message struct {
	ID             string                         `db:"id" json:"id"`
	ConversationID string                         `db:"conversation_id" json:"conversation_id"`
	Content        string                         `db:"content" json:"content"`
	Sender         MessageSender                  `db:"sender" json:"sender"`
	Channel        *string                        `db:"channel" json:"channel,omitempty"`
	Metadata       database.JSONB[map[string]any] `db:"metadata" json:"metadata,omitempty"`
	CreatedAt      time.Time                      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time                      `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (Message) TableName() string {
	return "messages"
}
