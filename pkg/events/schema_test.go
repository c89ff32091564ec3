package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Consumers bind to the serialized envelope, so the key casing and the
// partition key exclusion are load-bearing.
func TestDomainEventWireShape(t *testing.T) {
	event := DomainEvent{
		ID:            "evt-1",
		Type:          TypeConversationCreated,
		SchemaVersion: SchemaVersion,
		Source:        SourceZendesk,
		Subdomain:     "acme",
		Timestamp:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Payload: ConversationPayload{
			ConversationID: "zendesk-123",
			TicketID:       "123",
			CustomerID:     "456",
			Status:         "OPEN",
		},
		PartitionKey: "zendesk-123",
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))

	assert.Equal(t, "evt-1", wire["id"])
	assert.Equal(t, "CONVERSATION_CREATED", wire["type"])
	assert.Equal(t, "1.0", wire["schemaVersion"])
	assert.Equal(t, "zendesk", wire["source"])
	assert.Equal(t, "acme", wire["subdomain"])
	assert.Contains(t, wire, "timestamp")

	payload, ok := wire["payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "zendesk-123", payload["conversationId"])
	assert.Equal(t, "123", payload["ticketId"])
	assert.Equal(t, "456", payload["customerId"])
	assert.Equal(t, "OPEN", payload["status"])
	assert.NotContains(t, payload, "agentId")

	assert.NotContains(t, wire, "partitionKey")
	assert.NotContains(t, wire, "PartitionKey")
}

func TestWebhookPayloadForwardsOpaquely(t *testing.T) {
	inner := map[string]any{"whatever": []any{"the", "platform"}, "sends": 1.0}

	data, err := json.Marshal(WebhookPayload{
		Source:    SourceZendesk,
		EventType: "zen:event-type:ticket.merged",
		Payload:   inner,
	})
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, "zen:event-type:ticket.merged", wire["eventType"])
	assert.Equal(t, inner, wire["payload"])
}
