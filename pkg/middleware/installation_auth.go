package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/Gobusters/ectologger"
	utils "github.com/Ramsey-B/aster/pkg/context"
	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/tracing"
	"github.com/labstack/echo/v4"
)

// TokenVerifier validates an installation access token. A nil installation
// means the token is not accepted, whatever the cause.
type TokenVerifier interface {
	VerifyAccessToken(ctx context.Context, token string) *models.Installation
}

// InstallationAuth guards the app-facing read API with the bearer access
// tokens minted by the token endpoint. The verified installation's identity
// is placed on the request context for handlers to scope their queries.
func InstallationAuth(logger ectologger.Logger, verifier TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			ctx, span := tracing.StartSpan(ctx, "middleware.InstallationAuth")
			defer span.End()

			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				logger.WithContext(ctx).Warn("request is missing bearer token")
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer")
			}

			raw := strings.TrimPrefix(auth, "Bearer ")
			installation := verifier.VerifyAccessToken(ctx, raw)
			if installation == nil {
				logger.WithContext(ctx).Warn("token is invalid")
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			ctx = utils.SetInstallationID(ctx, installation.ID)
			ctx = utils.SetSubdomain(ctx, installation.Subdomain)
			ctx = utils.SetUserID(ctx, installation.UserID)

			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}
