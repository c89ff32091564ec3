package auth

import (
	"context"
	"crypto/hmac"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Ramsey-B/aster/pkg/database"
	"github.com/Ramsey-B/aster/pkg/metrics"
	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/signature"
	"github.com/Ramsey-B/aster/pkg/tracing"
)

const (
	// GrantTypeAuthorizationCode is the grant used to exchange an
	// authorization code for a token pair
	GrantTypeAuthorizationCode = "authorization_code"

	// GrantTypeRefreshToken is the grant used to rotate a token pair
	GrantTypeRefreshToken = "refresh_token"

	// TokenTypeBearer is the token_type returned on every grant
	TokenTypeBearer = "Bearer"

	// TokenScope is the scope granted to every installation token pair
	TokenScope = "read write"

	// AuthorizationCodeTTL is how long an issued code stays exchangeable
	AuthorizationCodeTTL = 5 * time.Minute

	// AccessTokenTTL is the lifetime of an access token
	AccessTokenTTL = time.Hour

	// RefreshTokenTTL is the lifetime of a refresh token
	RefreshTokenTTL = 30 * 24 * time.Hour

	// MinSigningKeyBytes is the smallest signing key the authority accepts.
	// A shorter key is a deployment mistake, not a request error.
	MinSigningKeyBytes = 32

	tokenUseCode    = "authorization_code"
	tokenUseAccess  = "access"
	tokenUseRefresh = "refresh"

	parseLeeway = 30 * time.Second
)

// GrantError is an OAuth token endpoint failure. Code is one of the RFC 6749
// error literals; Description is safe to return to the caller.
type GrantError struct {
	Code        string
	Description string
}

func (e *GrantError) Error() string {
	return e.Code + ": " + e.Description
}

func invalidGrant(format string, args ...any) *GrantError {
	return &GrantError{Code: "invalid_grant", Description: fmt.Sprintf(format, args...)}
}

func invalidRequest(format string, args ...any) *GrantError {
	return &GrantError{Code: "invalid_request", Description: fmt.Sprintf(format, args...)}
}

// Installations is the directory surface the authority needs. Implemented by
// the installation directory.
type Installations interface {
	Register(ctx context.Context, inst *models.Installation) error
	GetByTriple(ctx context.Context, subdomain, appID, userID string) (*models.Installation, error)
	UpdateTokens(ctx context.Context, id, accessToken string, refreshToken *string) error
	UpdateWebhookSecret(ctx context.Context, id, secret string) error
	TouchLastActive(ctx context.Context, id string) error
}

// TokenPair is the result of a successful grant
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	ExpiresIn    int64

	// Installation is the record the pair is bound to, carrying the
	// canonical webhook secret and settings after registration
	Installation *models.Installation
}

// tokenClaims is the claim set shared by authorization codes, access tokens,
// and refresh tokens. TokenUse keeps one kind from being presented as
// another.
type tokenClaims struct {
	Subdomain string `json:"subdomain"`
	UserID    string `json:"user_id"`
	AppID     string `json:"app_id"`
	State     string `json:"state,omitempty"`
	TokenUse  string `json:"token_use"`
	jwt.RegisteredClaims
}

// Authority issues and verifies the tokens behind the installation
// handshake: short-lived authorization codes, hour-scale access tokens, and
// month-scale refresh tokens, all HS256-signed with one process-wide key.
type Authority struct {
	signingKey    []byte
	installations Installations
	codes         CodeRegistry
	logger        ectologger.Logger
}

// NewAuthority creates a token authority. Fails if the signing key is
// shorter than MinSigningKeyBytes; callers should treat that as fatal.
func NewAuthority(signingKey string, installations Installations, codes CodeRegistry, logger ectologger.Logger) (*Authority, error) {
	if len(signingKey) < MinSigningKeyBytes {
		return nil, fmt.Errorf("auth signing key must be at least %d bytes, got %d", MinSigningKeyBytes, len(signingKey))
	}

	return &Authority{
		signingKey:    []byte(signingKey),
		installations: installations,
		codes:         codes,
		logger:        logger,
	}, nil
}

// IssueAuthorizationCode mints a signed, single-use code carrying the
// account identity and the caller's state. The code expires after
// AuthorizationCodeTTL.
func (a *Authority) IssueAuthorizationCode(ctx context.Context, subdomain, userID, appID, state string) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "Authority.IssueAuthorizationCode")
	defer span.End()

	var missing []string
	if subdomain == "" {
		missing = append(missing, "subdomain")
	}
	if userID == "" {
		missing = append(missing, "user_id")
	}
	if appID == "" {
		missing = append(missing, "app_id")
	}
	if state == "" {
		missing = append(missing, "state")
	}
	if len(missing) > 0 {
		return "", httperror.NewHTTPErrorf(http.StatusBadRequest, "authorize request missing required fields: %s", strings.Join(missing, ", "))
	}

	now := time.Now().UTC()
	code, err := a.signToken(tokenClaims{
		Subdomain: subdomain,
		UserID:    userID,
		AppID:     appID,
		State:     state,
		TokenUse:  tokenUseCode,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(AuthorizationCodeTTL)),
		},
	})
	if err != nil {
		a.logger.WithContext(ctx).WithError(err).Error("Failed to sign authorization code")
		return "", httperror.WrapError(http.StatusInternalServerError, err)
	}

	a.logger.WithContext(ctx).WithFields(map[string]any{
		"subdomain": subdomain,
		"app_id":    appID,
	}).Info("Issued authorization code")

	return code, nil
}

// ExchangeCode trades an authorization code for a token pair and registers
// the installation. Each code is exchangeable at most once; a second
// exchange of the same code fails with invalid_grant.
func (a *Authority) ExchangeCode(ctx context.Context, code, grantType string) (*TokenPair, error) {
	ctx, span := tracing.StartSpan(ctx, "Authority.ExchangeCode")
	defer span.End()

	if grantType != GrantTypeAuthorizationCode {
		metrics.RecordTokenGrant(grantType, "invalid_request")
		return nil, invalidRequest("unsupported grant_type %q", grantType)
	}

	claims, err := a.parseToken(code, tokenUseCode)
	if err != nil {
		a.logger.WithContext(ctx).WithError(err).Warn("Rejected authorization code")
		metrics.RecordTokenGrant(grantType, "invalid_grant")
		return nil, invalidGrant("authorization code is invalid or expired")
	}

	consumed, err := a.codes.Consume(ctx, claims.ID, AuthorizationCodeTTL+parseLeeway)
	if err != nil {
		a.logger.WithContext(ctx).WithError(err).Error("Failed to record authorization code use")
		metrics.RecordTokenGrant(grantType, "error")
		return nil, httperror.WrapError(http.StatusInternalServerError, err)
	}
	if !consumed {
		a.logger.WithContext(ctx).WithField("subdomain", claims.Subdomain).Warn("Authorization code replayed")
		metrics.RecordTokenGrant(grantType, "invalid_grant")
		return nil, invalidGrant("authorization code already used")
	}

	pair, err := a.mintPair(ctx, claims.Subdomain, claims.UserID, claims.AppID)
	if err != nil {
		metrics.RecordTokenGrant(grantType, "error")
		return nil, err
	}

	secret, err := signature.NewWebhookSecret()
	if err != nil {
		a.logger.WithContext(ctx).WithError(err).Error("Failed to generate webhook secret")
		metrics.RecordTokenGrant(grantType, "error")
		return nil, httperror.WrapError(http.StatusInternalServerError, err)
	}

	inst := &models.Installation{
		Subdomain:     claims.Subdomain,
		AppID:         claims.AppID,
		UserID:        claims.UserID,
		WebhookSecret: secret,
		AccessToken:   pair.AccessToken,
		RefreshToken:  &pair.RefreshToken,
		Settings:      database.NewJSONB(defaultSettings()),
	}

	// Reinstalls keep their existing secret and settings; the register
	// call reads the canonical row back onto inst.
	if err := a.installations.Register(ctx, inst); err != nil {
		a.logger.WithContext(ctx).WithError(err).Error("Failed to register installation")
		metrics.RecordTokenGrant(grantType, "error")
		return nil, err
	}

	pair.Installation = inst
	metrics.RecordTokenGrant(grantType, "success")

	a.logger.WithContext(ctx).WithFields(map[string]any{
		"installation_id": inst.ID,
		"subdomain":       inst.Subdomain,
	}).Info("Exchanged authorization code for token pair")

	return pair, nil
}

// RefreshTokens rotates a token pair using a refresh token. The presented
// token must literally match the stored one; anything else fails with
// invalid_grant.
func (a *Authority) RefreshTokens(ctx context.Context, refreshToken string) (*TokenPair, error) {
	ctx, span := tracing.StartSpan(ctx, "Authority.RefreshTokens")
	defer span.End()

	claims, err := a.parseToken(refreshToken, tokenUseRefresh)
	if err != nil {
		a.logger.WithContext(ctx).WithError(err).Warn("Rejected refresh token")
		metrics.RecordTokenGrant(GrantTypeRefreshToken, "invalid_grant")
		return nil, invalidGrant("refresh token is invalid or expired")
	}

	inst, err := a.installations.GetByTriple(ctx, claims.Subdomain, claims.AppID, claims.UserID)
	if err != nil {
		if httperror.IsHTTPError(err) && httperror.GetStatusCode(err) == http.StatusNotFound {
			metrics.RecordTokenGrant(GrantTypeRefreshToken, "invalid_grant")
			return nil, invalidGrant("refresh token is invalid or expired")
		}
		metrics.RecordTokenGrant(GrantTypeRefreshToken, "error")
		return nil, err
	}

	if inst.RefreshToken == nil || !hmac.Equal([]byte(*inst.RefreshToken), []byte(refreshToken)) {
		a.logger.WithContext(ctx).WithField("installation_id", inst.ID).Warn("Refresh token does not match stored token")
		metrics.RecordTokenGrant(GrantTypeRefreshToken, "invalid_grant")
		return nil, invalidGrant("refresh token is invalid or expired")
	}

	pair, err := a.mintPair(ctx, claims.Subdomain, claims.UserID, claims.AppID)
	if err != nil {
		metrics.RecordTokenGrant(GrantTypeRefreshToken, "error")
		return nil, err
	}

	if err := a.installations.UpdateTokens(ctx, inst.ID, pair.AccessToken, &pair.RefreshToken); err != nil {
		metrics.RecordTokenGrant(GrantTypeRefreshToken, "error")
		return nil, err
	}

	inst.AccessToken = pair.AccessToken
	inst.RefreshToken = &pair.RefreshToken
	pair.Installation = inst
	metrics.RecordTokenGrant(GrantTypeRefreshToken, "success")

	return pair, nil
}

// VerifyAccessToken resolves an access token to its installation. Returns
// nil on any failure: bad signature, expiry, unknown installation, or a
// stored token that no longer matches the presented one (a deleted
// installation's tokens die with it). Never returns an error.
func (a *Authority) VerifyAccessToken(ctx context.Context, token string) *models.Installation {
	ctx, span := tracing.StartSpan(ctx, "Authority.VerifyAccessToken")
	defer span.End()

	claims, err := a.parseToken(token, tokenUseAccess)
	if err != nil {
		a.logger.WithContext(ctx).WithError(err).Debug("Access token failed verification")
		metrics.TokenVerificationsTotal.WithLabelValues("invalid").Inc()
		return nil
	}

	inst, err := a.installations.GetByTriple(ctx, claims.Subdomain, claims.AppID, claims.UserID)
	if err != nil {
		a.logger.WithContext(ctx).WithError(err).Debug("Access token resolves to no installation")
		metrics.TokenVerificationsTotal.WithLabelValues("unknown_installation").Inc()
		return nil
	}

	if !hmac.Equal([]byte(inst.AccessToken), []byte(token)) {
		a.logger.WithContext(ctx).WithField("installation_id", inst.ID).Debug("Access token does not match stored token")
		metrics.TokenVerificationsTotal.WithLabelValues("mismatch").Inc()
		return nil
	}

	// Best-effort; a failed touch does not invalidate the token
	if err := a.installations.TouchLastActive(ctx, inst.ID); err != nil {
		a.logger.WithContext(ctx).WithError(err).Debugf("Failed to touch last active for installation %s", inst.ID)
	}

	metrics.TokenVerificationsTotal.WithLabelValues("success").Inc()
	return inst
}

// RotateWebhookSecret replaces an installation's webhook signing secret and
// returns the new value. The platform must be reconfigured with it before
// the next delivery.
func (a *Authority) RotateWebhookSecret(ctx context.Context, installationID string) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "Authority.RotateWebhookSecret")
	defer span.End()

	secret, err := signature.NewWebhookSecret()
	if err != nil {
		a.logger.WithContext(ctx).WithError(err).Error("Failed to generate webhook secret")
		return "", httperror.WrapError(http.StatusInternalServerError, err)
	}

	if err := a.installations.UpdateWebhookSecret(ctx, installationID, secret); err != nil {
		return "", err
	}

	a.logger.WithContext(ctx).Infof("Rotated webhook secret for installation %s", installationID)
	return secret, nil
}

// mintPair signs a fresh access and refresh token bound to the triple
func (a *Authority) mintPair(ctx context.Context, subdomain, userID, appID string) (*TokenPair, error) {
	now := time.Now().UTC()

	access, err := a.signToken(tokenClaims{
		Subdomain: subdomain,
		UserID:    userID,
		AppID:     appID,
		TokenUse:  tokenUseAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(AccessTokenTTL)),
		},
	})
	if err != nil {
		a.logger.WithContext(ctx).WithError(err).Error("Failed to sign access token")
		return nil, httperror.WrapError(http.StatusInternalServerError, err)
	}

	refresh, err := a.signToken(tokenClaims{
		Subdomain: subdomain,
		UserID:    userID,
		AppID:     appID,
		TokenUse:  tokenUseRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(RefreshTokenTTL)),
		},
	})
	if err != nil {
		a.logger.WithContext(ctx).WithError(err).Error("Failed to sign refresh token")
		return nil, httperror.WrapError(http.StatusInternalServerError, err)
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    TokenTypeBearer,
		Scope:        TokenScope,
		ExpiresIn:    int64(AccessTokenTTL.Seconds()),
	}, nil
}

func (a *Authority) signToken(claims tokenClaims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.signingKey)
}

func (a *Authority) parseToken(raw, expectedUse string) (*tokenClaims, error) {
	parsed, err := jwt.ParseWithClaims(raw, &tokenClaims{}, func(token *jwt.Token) (any, error) {
		return a.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithLeeway(parseLeeway))
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.TokenUse != expectedUse {
		return nil, fmt.Errorf("unexpected token use %q", claims.TokenUse)
	}
	if claims.Subdomain == "" || claims.UserID == "" || claims.AppID == "" {
		return nil, errors.New("token missing identity claims")
	}

	return claims, nil
}

// defaultSettings are the policy flags a fresh installation starts with
func defaultSettings() map[string]any {
	return map[string]any{
		models.SettingSentimentEnabled:   false,
		models.SettingSuggestionsEnabled: false,
	}
}
