package installation

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/aster/pkg/database"
	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/tracing"
)

const installationsTable = "installations"

var installationStruct = database.NewStruct(new(models.Installation))

// InstallationRepository persists installations and their secrets.
type InstallationRepository interface {
	Upsert(ctx context.Context, inst *models.Installation) error
	GetByID(ctx context.Context, id string) (*models.Installation, error)
	GetByTriple(ctx context.Context, subdomain, appID, userID string) (*models.Installation, error)
	UpdateTokens(ctx context.Context, id, accessToken string, refreshToken *string) error
	UpdateSettings(ctx context.Context, id string, settings map[string]any) (*models.Installation, error)
	UpdateWebhookSecret(ctx context.Context, id, secret string) error
	TouchLastActive(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new installation repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Upsert inserts the installation, or refreshes the tokens of the existing row
// for the same (subdomain, app_id, user_id) triple. The webhook secret and
// settings of an existing installation are preserved so a reinstall does not
// break the configured webhook. The stored row is written back onto inst.
func (r *Repository) Upsert(ctx context.Context, inst *models.Installation) error {
	ctx, span := tracing.StartSpan(ctx, "InstallationRepository.Upsert")
	defer span.End()

	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	inst.CreatedAt = now
	inst.UpdatedAt = now

	ib := installationStruct.InsertInto(installationsTable, inst)
	ub := ib.OnConflict("subdomain", "app_id", "user_id")
	ub.Set(
		ub.Assign("access_token", database.Excluded("access_token")),
		ub.Assign("refresh_token", database.Excluded("refresh_token")),
		ub.Assign("updated_at", now),
	)
	ib.Returning("id", "webhook_secret", "settings", "last_active_at", "created_at", "updated_at")

	query, args := ib.Build()
	err := r.db.QueryRowxContext(ctx, query, args...).
		Scan(&inst.ID, &inst.WebhookSecret, &inst.Settings, &inst.LastActiveAt, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"subdomain": inst.Subdomain,
			"app_id":    inst.AppID,
			"user_id":   inst.UserID,
		}).Error("failed to upsert installation")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert installation")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"installation_id": inst.ID,
		"subdomain":       inst.Subdomain,
	}).Debugf("Upserted %s", installationsTable)
	return nil
}

// GetByID retrieves an installation by its opaque id.
func (r *Repository) GetByID(ctx context.Context, id string) (*models.Installation, error) {
	ctx, span := tracing.StartSpan(ctx, "InstallationRepository.GetByID")
	defer span.End()

	sb := installationStruct.SelectFrom(installationsTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var inst models.Installation
	err := r.db.GetContext(ctx, &inst, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "installation %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"installation_id": id,
		}).Error("failed to get installation by ID")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get installation by ID")
	}

	return &inst, nil
}

// GetByTriple retrieves the installation bound to a subdomain/app/user triple.
func (r *Repository) GetByTriple(ctx context.Context, subdomain, appID, userID string) (*models.Installation, error) {
	ctx, span := tracing.StartSpan(ctx, "InstallationRepository.GetByTriple")
	defer span.End()

	sb := installationStruct.SelectFrom(installationsTable)
	sb.Where(
		sb.Equal("subdomain", subdomain),
		sb.Equal("user_id", userID),
		sb.Equal("app_id", appID),
	)

	query, args := sb.Build()
	var inst models.Installation
	err := r.db.GetContext(ctx, &inst, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "no installation for subdomain %s", subdomain)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"subdomain": subdomain,
			"app_id":    appID,
		}).Error("failed to get installation by triple")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get installation")
	}

	return &inst, nil
}

// UpdateTokens replaces the stored access and refresh tokens.
func (r *Repository) UpdateTokens(ctx context.Context, id, accessToken string, refreshToken *string) error {
	ctx, span := tracing.StartSpan(ctx, "InstallationRepository.UpdateTokens")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(installationsTable)
	ub.Set(
		ub.Assign("access_token", accessToken),
		ub.Assign("refresh_token", refreshToken),
		ub.Assign("updated_at", time.Now().UTC()),
	)
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"installation_id": id,
		}).Error("failed to update installation tokens")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update installation tokens")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "installation %s does not exist", id)
	}

	return nil
}

// UpdateSettings replaces the settings map and returns the stored row.
func (r *Repository) UpdateSettings(ctx context.Context, id string, settings map[string]any) (*models.Installation, error) {
	ctx, span := tracing.StartSpan(ctx, "InstallationRepository.UpdateSettings")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(installationsTable)
	ub.Set(
		ub.Assign("settings", database.NewJSONB(settings)),
		ub.Assign("updated_at", time.Now().UTC()),
	)
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"installation_id": id,
		}).Error("failed to update installation settings")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update installation settings")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "installation %s does not exist", id)
	}

	return r.GetByID(ctx, id)
}

// UpdateWebhookSecret rotates the webhook signing secret.
func (r *Repository) UpdateWebhookSecret(ctx context.Context, id, secret string) error {
	ctx, span := tracing.StartSpan(ctx, "InstallationRepository.UpdateWebhookSecret")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(installationsTable)
	ub.Set(
		ub.Assign("webhook_secret", secret),
		ub.Assign("updated_at", time.Now().UTC()),
	)
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"installation_id": id,
		}).Error("failed to rotate webhook secret")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to rotate webhook secret")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "installation %s does not exist", id)
	}

	return nil
}

// TouchLastActive stamps last_active_at. Callers treat failures as
// best-effort; this never fails a verification result.
func (r *Repository) TouchLastActive(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "InstallationRepository.TouchLastActive")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(installationsTable)
	ub.Set(ub.Assign("last_active_at", time.Now().UTC()))
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"installation_id": id,
		}).Warn("failed to record installation last active timestamp")
		return err
	}
	return nil
}

// Delete removes the installation row. Tokens and the webhook secret die with
// it, so verification of anything previously issued fails immediately.
func (r *Repository) Delete(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "InstallationRepository.Delete")
	defer span.End()

	dlb := database.NewDeleteBuilder()
	dlb.DeleteFrom(installationsTable)
	dlb.Where(dlb.Equal("id", id))

	query, args := dlb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"installation_id": id,
		}).Error("failed to delete installation")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete installation")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "installation %s does not exist", id)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"installation_id": id,
	}).Info("Deleted installation")
	return nil
}
