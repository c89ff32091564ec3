package conversation

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

const conversationsTable = "conversations"

var conversationStruct = database.NewStruct(new(models.Conversation))

// ConversationRepository persists normalized conversations. Ids are
// deterministic, so Upsert is the only write path and replays converge.
type ConversationRepository interface {
	Upsert(ctx context.Context, conv *models.Conversation) error
	GetByID(ctx context.Context, id string) (*models.Conversation, error)
	ListBySubdomain(ctx context.Context, subdomain string, limit int) ([]models.Conversation, error)
}

type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new conversation repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Upsert inserts the conversation or refreshes the mutable fields of the
// existing row with the same derived id.
func (r *Repository) Upsert(ctx context.Context, conv *models.Conversation) error {
	ctx, span := tracing.StartSpan(ctx, "ConversationRepository.Upsert")
	defer span.End()

	now := time.Now().UTC()
	conv.CreatedAt = now
	conv.UpdatedAt = now

	ib := conversationStruct.InsertInto(conversationsTable, conv)
	ub := ib.OnConflict("id")
	ub.Set(
		ub.Assign("customer_id", database.Excluded("customer_id")),
		ub.Assign("agent_id", database.Excluded("agent_id")),
		ub.Assign("status", database.Excluded("status")),
		ub.Assign("subject", database.Excluded("subject")),
		ub.Assign("priority", database.Excluded("priority")),
		ub.Assign("tags", database.Excluded("tags")),
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
			"conversation_id": conv.ID,
			"ticket_id":       conv.TicketID,
		}).Error("error upserting conversation")
		return httperror.NewHTTPError(http.StatusInternalServerError, "error upserting conversation")
	}

	if err = tx.Commit(ctx); err != nil {
		return err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"conversation_id": conv.ID,
		"status":          conv.Status,
	}).Debugf("Upserted %s", conversationsTable)
	return nil
}

// GetByID retrieves a conversation by its derived id.
func (r *Repository) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	ctx, span := tracing.StartSpan(ctx, "ConversationRepository.GetByID")
	defer span.End()

	sb := conversationStruct.SelectFrom(conversationsTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "conversation %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"conversation_id": id,
		}).Error("failed to get conversation by ID")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get conversation by ID")
	}

	return &conv, nil
}

// ListBySubdomain returns the most recently updated conversations for one
// account.
func (r *Repository) ListBySubdomain(ctx context.Context, subdomain string, limit int) ([]models.Conversation, error) {
	ctx, span := tracing.StartSpan(ctx, "ConversationRepository.ListBySubdomain")
	defer span.End()

	if limit <= 0 || limit > 200 {
		limit = 200
	}

	sb := conversationStruct.SelectFrom(conversationsTable)
	sb.Where(sb.Equal("subdomain", subdomain))
	sb.OrderBy("updated_at").Desc()
	sb.Limit(limit)

	query, args := sb.Build()
	var conversations []models.Conversation
	if err := r.db.SelectContext(ctx, &conversations, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"subdomain": subdomain,
		}).Error("failed to list conversations")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list conversations")
	}

	return conversations, nil
}
