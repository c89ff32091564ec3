package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusFromZendesk(t *testing.T) {
	tests := []struct {
		name     string
		status   string
		expected ConversationStatus
	}{
		{name: "new maps to open", status: "new", expected: StatusOpen},
		{name: "open maps to open", status: "open", expected: StatusOpen},
		{name: "pending maps to waiting", status: "pending", expected: StatusWaiting},
		{name: "hold maps to on hold", status: "hold", expected: StatusOnHold},
		{name: "solved maps to resolved", status: "solved", expected: StatusResolved},
		{name: "closed maps to closed", status: "closed", expected: StatusClosed},
		{name: "unmapped falls back to open", status: "weird_custom_status", expected: StatusOpen},
		{name: "empty falls back to open", status: "", expected: StatusOpen},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, StatusFromZendesk(test.status))
		})
	}
}

func TestConversationStatusIsTerminal(t *testing.T) {
	assert.True(t, StatusResolved.IsTerminal())
	assert.True(t, StatusClosed.IsTerminal())
	assert.False(t, StatusOpen.IsTerminal())
	assert.False(t, StatusWaiting.IsTerminal())
	assert.False(t, StatusOnHold.IsTerminal())
}
