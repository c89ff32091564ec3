package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/aster/pkg/auth"
)

// TokenGranter runs the installation handshake. Implemented by the token
// authority.
type TokenGranter interface {
	IssueAuthorizationCode(ctx context.Context, subdomain, userID, appID, state string) (string, error)
	ExchangeCode(ctx context.Context, code, grantType string) (*auth.TokenPair, error)
	RefreshTokens(ctx context.Context, refreshToken string) (*auth.TokenPair, error)
}

// AuthHandler serves the OAuth-style installation handshake
type AuthHandler struct {
	authority   TokenGranter
	redirectURL string
	logger      ectologger.Logger
}

// NewAuthHandler creates a new auth handler. redirectURL is the callback used
// when the authorize request does not name one.
func NewAuthHandler(authority TokenGranter, redirectURL string, logger ectologger.Logger) *AuthHandler {
	return &AuthHandler{
		authority:   authority,
		redirectURL: redirectURL,
		logger:      logger,
	}
}

// TokenRequest is the body of a token grant request
type TokenRequest struct {
	GrantType    string `json:"grant_type" form:"grant_type"`
	Code         string `json:"code" form:"code"`
	RefreshToken string `json:"refresh_token" form:"refresh_token"`
}

// TokenResponse is the body of a successful grant
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	ExpiresIn    int64  `json:"expires_in"`
}

// GrantErrorResponse is the RFC 6749 error body for rejected grants
type GrantErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// RegisterRoutes registers the handshake routes
func (h *AuthHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/auth/authorize", h.Authorize)
	e.POST("/auth/token", h.Token)
}

// Authorize handles GET /auth/authorize. It issues a single-use code and
// redirects back to the caller with code and state attached.
func (h *AuthHandler) Authorize(c echo.Context) error {
	ctx := c.Request().Context()

	code, err := h.authority.IssueAuthorizationCode(
		ctx,
		c.QueryParam("subdomain"),
		c.QueryParam("user_id"),
		c.QueryParam("app_id"),
		c.QueryParam("state"),
	)
	if err != nil {
		return err
	}

	target := c.QueryParam("redirect_uri")
	if target == "" {
		target = h.redirectURL
	}
	if target == "" {
		return BadRequest("redirect_uri is required")
	}

	u, err := url.Parse(target)
	if err != nil {
		return BadRequest("invalid redirect_uri")
	}

	q := u.Query()
	q.Set("code", code)
	q.Set("state", c.QueryParam("state"))
	u.RawQuery = q.Encode()

	return c.Redirect(http.StatusFound, u.String())
}

// Token handles POST /auth/token. Unknown grant types fall through to the
// code exchange, which rejects them as invalid_request.
func (h *AuthHandler) Token(c echo.Context) error {
	ctx := c.Request().Context()

	var req TokenRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, GrantErrorResponse{
			Error:            "invalid_request",
			ErrorDescription: "malformed token request",
		})
	}

	var pair *auth.TokenPair
	var err error
	switch req.GrantType {
	case auth.GrantTypeRefreshToken:
		pair, err = h.authority.RefreshTokens(ctx, req.RefreshToken)
	default:
		pair, err = h.authority.ExchangeCode(ctx, req.Code, req.GrantType)
	}
	if err != nil {
		var grantErr *auth.GrantError
		if errors.As(err, &grantErr) {
			h.logger.WithContext(ctx).WithError(err).Warnf("Rejected %s grant", req.GrantType)
			return c.JSON(http.StatusBadRequest, GrantErrorResponse{
				Error:            grantErr.Code,
				ErrorDescription: grantErr.Description,
			})
		}
		return err
	}

	return SuccessResponse(c, TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    pair.TokenType,
		Scope:        pair.Scope,
		ExpiresIn:    pair.ExpiresIn,
	})
}
