package handlers

import (
	"context"
	"io"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	appctx "github.com/Ramsey-B/aster/pkg/context"
	"github.com/Ramsey-B/aster/pkg/metrics"
	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/signature"
	"github.com/Ramsey-B/aster/pkg/zendesk"
)

// InstallationResolver resolves webhook installations. Implemented by the
// installation directory.
type InstallationResolver interface {
	Get(ctx context.Context, id string) (*models.Installation, error)
}

// EventSynchronizer applies a classified webhook event to the conversation
// records. Implemented by the conversation synchronizer.
type EventSynchronizer interface {
	Synchronize(ctx context.Context, inst *models.Installation, event zendesk.Event) error
}

// WebhookHandler receives Zendesk webhook deliveries
type WebhookHandler struct {
	directory    InstallationResolver
	classifier   *zendesk.Classifier
	synchronizer EventSynchronizer
	timeout      time.Duration
	logger       ectologger.Logger
}

// NewWebhookHandler creates a new webhook ingress handler. The timeout bounds
// how long one delivery may spend in storage and publishing.
func NewWebhookHandler(directory InstallationResolver, classifier *zendesk.Classifier, synchronizer EventSynchronizer, timeout time.Duration, logger ectologger.Logger) *WebhookHandler {
	return &WebhookHandler{
		directory:    directory,
		classifier:   classifier,
		synchronizer: synchronizer,
		timeout:      timeout,
		logger:       logger,
	}
}

// WebhookResponse acknowledges a processed delivery. Timestamp echoes the
// envelope's event_timestamp.
type WebhookResponse struct {
	Status    string `json:"status"`
	EventID   string `json:"eventId"`
	EventType string `json:"eventType"`
	Timestamp string `json:"timestamp"`
}

// RegisterRoutes registers the webhook ingress route
func (h *WebhookHandler) RegisterRoutes(e *echo.Echo) {
	e.POST("/webhooks/zendesk/:installation_id", h.Handle)
}

// Handle processes one webhook delivery. Rejections are ordered: unknown
// installation, then signature, then payload shape. Once an event is applied
// the delivery is acknowledged with 200 even if parts of the processing
// degraded; only an unexpected internal failure returns 500.
func (h *WebhookHandler) Handle(c echo.Context) error {
	ctx := c.Request().Context()
	start := time.Now()

	installationID, err := PathParam(c, "installation_id")
	if err != nil {
		return err
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return BadRequest("unable to read request body")
	}

	inst, err := h.directory.Get(ctx, installationID)
	if err != nil {
		return err
	}

	if !signature.Verify(body, c.Request().Header.Get(signature.Header), inst.WebhookSecret) {
		metrics.SignatureFailuresTotal.Inc()
		h.logger.WithContext(ctx).WithFields(map[string]any{
			"installation_id": inst.ID,
			"subdomain":       inst.Subdomain,
		}).Warn("Rejected webhook delivery with a bad signature")
		// One message for a missing header, a stale secret, or a forgery
		return Unauthorized("invalid webhook signature")
	}

	event, err := h.classifier.Classify(body)
	if err != nil {
		metrics.RecordWebhookEvent("malformed", "rejected", time.Since(start).Seconds())
		return err
	}

	ctx = appctx.SetInstallationID(ctx, inst.ID)
	ctx = appctx.SetSubdomain(ctx, inst.Subdomain)

	syncCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	if err := h.synchronizer.Synchronize(syncCtx, inst, event); err != nil {
		metrics.RecordWebhookEvent(event.Type(), "error", time.Since(start).Seconds())
		h.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"event_id":   event.EventID(),
			"event_type": event.Type(),
		}).Error("Failed to synchronize webhook event")
		return err
	}

	metrics.RecordWebhookEvent(event.Type(), "processed", time.Since(start).Seconds())

	return SuccessResponse(c, WebhookResponse{
		Status:    "processed",
		EventID:   event.EventID(),
		EventType: event.Type(),
		Timestamp: event.Timestamp(),
	})
}
