package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/aster/pkg/middleware"
	"github.com/Ramsey-B/aster/pkg/models"
)

type fakeVerifier struct {
	inst *models.Installation
}

func (f *fakeVerifier) VerifyAccessToken(_ context.Context, token string) *models.Installation {
	if token != "good" {
		return nil
	}
	return f.inst
}

type fakeConversationReader struct {
	rows map[string]*models.Conversation
	list []models.Conversation

	lastSubdomain string
	lastLimit     int
	listCalls     int
}

func (f *fakeConversationReader) GetByID(_ context.Context, id string) (*models.Conversation, error) {
	row, ok := f.rows[id]
	if !ok {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "conversation with id '%s' not found", id)
	}
	copied := *row
	return &copied, nil
}

func (f *fakeConversationReader) ListBySubdomain(_ context.Context, subdomain string, limit int) ([]models.Conversation, error) {
	f.listCalls++
	f.lastSubdomain = subdomain
	f.lastLimit = limit
	return f.list, nil
}

type fakeMessageReader struct {
	msgs             map[string][]models.Message
	lastConversation string
	calls            int
}

func (f *fakeMessageReader) ListByConversation(_ context.Context, conversationID string) ([]models.Message, error) {
	f.calls++
	f.lastConversation = conversationID
	return f.msgs[conversationID], nil
}

func newConversationServer(conversations *fakeConversationReader, messages *fakeMessageReader) *echo.Echo {
	logger := noopLogger()
	verifier := &fakeVerifier{inst: &models.Installation{
		ID:        "inst-1",
		Subdomain: "acme",
		AppID:     "app-1",
		UserID:    "user-1",
	}}

	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(logger)
	app := e.Group("/api/v1/app", middleware.InstallationAuth(logger, verifier))
	NewConversationHandler(conversations, messages, logger).RegisterRoutes(app)
	return e
}

func getWithToken(e *echo.Echo, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func acmeConversation(id string) *models.Conversation {
	return &models.Conversation{
		ID:         id,
		Subdomain:  "acme",
		TicketID:   "123",
		CustomerID: "7",
		Status:     models.StatusOpen,
	}
}

func TestConversationRoutesRequireBearer(t *testing.T) {
	conversations := &fakeConversationReader{}
	e := newConversationServer(conversations, &fakeMessageReader{})

	tests := []struct {
		name   string
		header string
	}{
		{name: "no header", header: ""},
		{name: "not a bearer", header: "Basic dXNlcjpwYXNz"},
		{name: "rejected token", header: "Bearer expired"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/app/conversations", nil)
			if test.header != "" {
				req.Header.Set(echo.HeaderAuthorization, test.header)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}

	assert.Zero(t, conversations.listCalls)
}

func TestConversationListScopedToCaller(t *testing.T) {
	conversations := &fakeConversationReader{list: []models.Conversation{*acmeConversation("zendesk-123")}}
	e := newConversationServer(conversations, &fakeMessageReader{})

	rec := getWithToken(e, "/api/v1/app/conversations", "good")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acme", conversations.lastSubdomain)
	assert.Equal(t, defaultConversationLimit, conversations.lastLimit)

	var listed []models.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "zendesk-123", listed[0].ID)
}

func TestConversationListLimit(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		expected int
	}{
		{name: "explicit limit", query: "?limit=5", expected: 5},
		{name: "capped at the maximum", query: "?limit=1000", expected: maxConversationLimit},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			conversations := &fakeConversationReader{}
			e := newConversationServer(conversations, &fakeMessageReader{})

			rec := getWithToken(e, "/api/v1/app/conversations"+test.query, "good")

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, test.expected, conversations.lastLimit)
		})
	}
}

func TestConversationListRejectsBadLimit(t *testing.T) {
	tests := []struct {
		name  string
		limit string
	}{
		{name: "not a number", limit: "abc"},
		{name: "negative", limit: "-1"},
		{name: "zero", limit: "0"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			conversations := &fakeConversationReader{}
			e := newConversationServer(conversations, &fakeMessageReader{})

			rec := getWithToken(e, "/api/v1/app/conversations?limit="+test.limit, "good")

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "limit must be a positive integer")
			assert.Zero(t, conversations.listCalls)
		})
	}
}

func TestConversationGet(t *testing.T) {
	conversations := &fakeConversationReader{rows: map[string]*models.Conversation{
		"zendesk-123": acmeConversation("zendesk-123"),
	}}
	e := newConversationServer(conversations, &fakeMessageReader{})

	rec := getWithToken(e, "/api/v1/app/conversations/zendesk-123", "good")

	require.Equal(t, http.StatusOK, rec.Code)

	var conv models.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	assert.Equal(t, "zendesk-123", conv.ID)
	assert.Equal(t, "123", conv.TicketID)
}

func TestConversationGetOtherAccountReadsAsMissing(t *testing.T) {
	other := acmeConversation("zendesk-999")
	other.Subdomain = "globex"
	conversations := &fakeConversationReader{rows: map[string]*models.Conversation{
		"zendesk-999": other,
	}}
	e := newConversationServer(conversations, &fakeMessageReader{})

	recOther := getWithToken(e, "/api/v1/app/conversations/zendesk-999", "good")
	recMissing := getWithToken(e, "/api/v1/app/conversations/zendesk-404", "good")

	// A foreign conversation is indistinguishable from one that does not exist
	assert.Equal(t, http.StatusNotFound, recOther.Code)
	assert.Equal(t, http.StatusNotFound, recMissing.Code)
	assert.NotContains(t, recOther.Body.String(), "globex")
}

func TestConversationMessages(t *testing.T) {
	conversations := &fakeConversationReader{rows: map[string]*models.Conversation{
		"zendesk-123": acmeConversation("zendesk-123"),
	}}
	messages := &fakeMessageReader{msgs: map[string][]models.Message{
		"zendesk-123": {
			{ID: "zendesk-ticket-123-description", ConversationID: "zendesk-123", Content: "help", Sender: models.SenderCustomer},
			{ID: "zendesk-comment-456", ConversationID: "zendesk-123", Content: "on it", Sender: models.SenderAgent},
		},
	}}
	e := newConversationServer(conversations, messages)

	rec := getWithToken(e, "/api/v1/app/conversations/zendesk-123/messages", "good")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "zendesk-123", messages.lastConversation)

	var listed []models.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 2)
	assert.Equal(t, models.SenderCustomer, listed[0].Sender)
	assert.Equal(t, models.SenderAgent, listed[1].Sender)
}

func TestConversationMessagesScopedToCaller(t *testing.T) {
	other := acmeConversation("zendesk-999")
	other.Subdomain = "globex"
	conversations := &fakeConversationReader{rows: map[string]*models.Conversation{
		"zendesk-999": other,
	}}
	messages := &fakeMessageReader{}
	e := newConversationServer(conversations, messages)

	rec := getWithToken(e, "/api/v1/app/conversations/zendesk-999/messages", "good")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, messages.calls)
}
