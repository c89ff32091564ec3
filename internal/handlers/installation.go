package handlers

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/aster/pkg/models"
)

// InstallationDirectory is the directory surface the admin endpoints need.
type InstallationDirectory interface {
	Get(ctx context.Context, id string) (*models.Installation, error)
	GetByTriple(ctx context.Context, subdomain, appID, userID string) (*models.Installation, error)
	UpdateSettings(ctx context.Context, id string, settings map[string]any) (*models.Installation, error)
	Uninstall(ctx context.Context, id string) error
}

// SecretRotator replaces an installation's webhook signing secret.
// Implemented by the token authority.
type SecretRotator interface {
	RotateWebhookSecret(ctx context.Context, installationID string) (string, error)
}

// InstallationHandler handles installation admin requests
type InstallationHandler struct {
	directory InstallationDirectory
	rotator   SecretRotator
	logger    ectologger.Logger
}

// NewInstallationHandler creates a new installation admin handler
func NewInstallationHandler(directory InstallationDirectory, rotator SecretRotator, logger ectologger.Logger) *InstallationHandler {
	return &InstallationHandler{
		directory: directory,
		rotator:   rotator,
		logger:    logger,
	}
}

// UpdateSettingsRequest is the request body for replacing installation settings
type UpdateSettingsRequest struct {
	Settings map[string]any `json:"settings" validate:"required"`
}

// RotateSecretResponse carries a freshly rotated webhook secret. This is the
// only place the secret is ever returned; the caller must reconfigure the
// Zendesk webhook with it.
type RotateSecretResponse struct {
	WebhookSecret string `json:"webhook_secret"`
}

// RegisterRoutes registers the installation admin routes
func (h *InstallationHandler) RegisterRoutes(g *echo.Group) {
	installations := g.Group("/installations")
	installations.GET("", h.Find)
	installations.GET("/:id", h.Get)
	installations.PUT("/:id/settings", h.UpdateSettings)
	installations.POST("/:id/webhook-secret", h.RotateSecret)
	installations.DELETE("/:id", h.Delete)
}

// Find handles GET /installations?subdomain=&app_id=&user_id=. The handshake
// never returns the installation id, so this is how an operator locates the
// record to point the platform webhook at.
func (h *InstallationHandler) Find(c echo.Context) error {
	ctx := c.Request().Context()

	subdomain := c.QueryParam("subdomain")
	appID := c.QueryParam("app_id")
	userID := c.QueryParam("user_id")
	if subdomain == "" || appID == "" || userID == "" {
		return BadRequest("subdomain, app_id and user_id are required")
	}

	inst, err := h.directory.GetByTriple(ctx, subdomain, appID, userID)
	if err != nil {
		return err
	}

	return SuccessResponse(c, inst)
}

// Get handles GET /installations/:id. Secrets and tokens never serialize.
func (h *InstallationHandler) Get(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := PathParam(c, "id")
	if err != nil {
		return err
	}

	inst, err := h.directory.Get(ctx, id)
	if err != nil {
		return err
	}

	return SuccessResponse(c, inst)
}

// UpdateSettings handles PUT /installations/:id/settings
func (h *InstallationHandler) UpdateSettings(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := PathParam(c, "id")
	if err != nil {
		return err
	}

	var req UpdateSettingsRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}

	if err := validate.Struct(req); err != nil {
		return BadRequest(err.Error())
	}

	inst, err := h.directory.UpdateSettings(ctx, id, req.Settings)
	if err != nil {
		return err
	}

	return SuccessResponse(c, inst)
}

// RotateSecret handles POST /installations/:id/webhook-secret
func (h *InstallationHandler) RotateSecret(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := PathParam(c, "id")
	if err != nil {
		return err
	}

	// The directory 404s unknown installations before any rotation happens
	if _, err := h.directory.Get(ctx, id); err != nil {
		return err
	}

	secret, err := h.rotator.RotateWebhookSecret(ctx, id)
	if err != nil {
		return err
	}

	return SuccessResponse(c, RotateSecretResponse{WebhookSecret: secret})
}

// Delete handles DELETE /installations/:id
func (h *InstallationHandler) Delete(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := PathParam(c, "id")
	if err != nil {
		return err
	}

	if err := h.directory.Uninstall(ctx, id); err != nil {
		return err
	}

	h.logger.WithContext(ctx).Infof("Uninstalled installation %s", id)

	return NoContentResponse(c)
}
