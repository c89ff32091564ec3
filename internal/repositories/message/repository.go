package message

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/aster/pkg/database"
	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/tracing"
)

const messagesTable = "messages"

var messageStruct = database.NewStruct(new(models.Message))

// MessageRepository persists conversation messages. The sender classification
// is fixed at first insert; replays and edits only touch content and metadata.
type MessageRepository interface {
	Upsert(ctx context.Context, msg *models.Message) error
	GetByID(ctx context.Context, id string) (*models.Message, error)
	ListByConversation(ctx context.Context, conversationID string) ([]models.Message, error)
}

type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new message repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Upsert inserts the message or refreshes the content of the existing row
// with the same derived id. Sender stays whatever the first insert decided.
func (r *Repository) Upsert(ctx context.Context, msg *models.Message) error {
	ctx, span := tracing.StartSpan(ctx, "MessageRepository.Upsert")
	defer span.End()

	now := time.Now().UTC()
	msg.CreatedAt = now
	msg.UpdatedAt = now

	ib := messageStruct.InsertInto(messagesTable, msg)
	ub := ib.OnConflict("id")
	ub.Set(
		ub.Assign("content", database.Excluded("content")),
		ub.Assign("metadata", database.Excluded("metadata")),
		ub.Assign("updated_at", now),
	)

	query, args := ib.Build()

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err = tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"message_id":      msg.ID,
			"conversation_id": msg.ConversationID,
		}).Error("error upserting message")
		return httperror.NewHTTPError(http.StatusInternalServerError, "error upserting message")
	}

	if err = tx.Commit(ctx); err != nil {
		return err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"message_id":      msg.ID,
		"conversation_id": msg.ConversationID,
	}).Debugf("Upserted %s", messagesTable)
	return nil
}

// GetByID retrieves a message by its derived id.
func (r *Repository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	ctx, span := tracing.StartSpan(ctx, "MessageRepository.GetByID")
	defer span.End()

	sb := messageStruct.SelectFrom(messagesTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "message %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"message_id": id,
		}).Error("failed to get message by ID")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get message by ID")
	}

	return &msg, nil
}

// ListByConversation returns the messages of a conversation in insertion
// order.
func (r *Repository) ListByConversation(ctx context.Context, conversationID string) ([]models.Message, error) {
	ctx, span := tracing.StartSpan(ctx, "MessageRepository.ListByConversation")
	defer span.End()

	sb := messageStruct.SelectFrom(messagesTable)
	sb.Where(sb.Equal("conversation_id", conversationID))
	sb.OrderBy("created_at").Asc()

	query, args := sb.Build()
	var messages []models.Message
	if err := r.db.SelectContext(ctx, &messages, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"conversation_id": conversationID,
		}).Error("failed to list messages for conversation")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list messages")
	}

	return messages, nil
}
