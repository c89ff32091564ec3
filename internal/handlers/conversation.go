package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/aster/pkg/models"
)

const (
	defaultConversationLimit = 50
	maxConversationLimit     = 200
)

// ConversationReader reads synchronized conversations. Implemented by the
// conversation repository.
type ConversationReader interface {
	GetByID(ctx context.Context, id string) (*models.Conversation, error)
	ListBySubdomain(ctx context.Context, subdomain string, limit int) ([]models.Conversation, error)
}

// MessageReader reads synchronized messages. Implemented by the message
// repository.
type MessageReader interface {
	ListByConversation(ctx context.Context, conversationID string) ([]models.Message, error)
}

// ConversationHandler serves the read API the installed app renders its
// conversation views from. Every query is scoped to the authenticated
// installation's subdomain.
type ConversationHandler struct {
	conversations ConversationReader
	messages      MessageReader
	logger        ectologger.Logger
}

// NewConversationHandler creates a new conversation read handler
func NewConversationHandler(conversations ConversationReader, messages MessageReader, logger ectologger.Logger) *ConversationHandler {
	return &ConversationHandler{
		conversations: conversations,
		messages:      messages,
		logger:        logger,
	}
}

// RegisterRoutes registers the conversation read routes
func (h *ConversationHandler) RegisterRoutes(g *echo.Group) {
	conversations := g.Group("/conversations")
	conversations.GET("", h.List)
	conversations.GET("/:id", h.Get)
	conversations.GET("/:id/messages", h.ListMessages)
}

// List handles GET /conversations
func (h *ConversationHandler) List(c echo.Context) error {
	ctx := c.Request().Context()

	subdomain, err := GetSubdomain(c)
	if err != nil {
		return err
	}

	limit := defaultConversationLimit
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return BadRequest("limit must be a positive integer")
		}
		limit = parsed
	}
	if limit > maxConversationLimit {
		limit = maxConversationLimit
	}

	conversations, err := h.conversations.ListBySubdomain(ctx, subdomain, limit)
	if err != nil {
		return err
	}

	return SuccessResponse(c, conversations)
}

// Get handles GET /conversations/:id
func (h *ConversationHandler) Get(c echo.Context) error {
	conv, err := h.scopedConversation(c)
	if err != nil {
		return err
	}

	return SuccessResponse(c, conv)
}

// ListMessages handles GET /conversations/:id/messages
func (h *ConversationHandler) ListMessages(c echo.Context) error {
	ctx := c.Request().Context()

	conv, err := h.scopedConversation(c)
	if err != nil {
		return err
	}

	messages, err := h.messages.ListByConversation(ctx, conv.ID)
	if err != nil {
		return err
	}

	return SuccessResponse(c, messages)
}

// scopedConversation loads the conversation named in the path and checks it
// belongs to the caller's subdomain. Conversations of other accounts read as
// not found.
func (h *ConversationHandler) scopedConversation(c echo.Context) (*models.Conversation, error) {
	ctx := c.Request().Context()

	subdomain, err := GetSubdomain(c)
	if err != nil {
		return nil, err
	}

	id, err := PathParam(c, "id")
	if err != nil {
		return nil, err
	}

	conv, err := h.conversations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if conv.Subdomain != subdomain {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "conversation %s does not exist", id)
	}

	return conv, nil
}
