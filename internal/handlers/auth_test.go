package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/aster/pkg/auth"
	"github.com/Ramsey-B/aster/pkg/middleware"
)

type fakeGranter struct {
	code     string
	issueErr error

	pair     *auth.TokenPair
	grantErr error

	lastGrantType string
	lastCode      string
	lastRefresh   string
}

func (f *fakeGranter) IssueAuthorizationCode(_ context.Context, subdomain, userID, appID, state string) (string, error) {
	if f.issueErr != nil {
		return "", f.issueErr
	}
	if subdomain == "" || userID == "" || appID == "" || state == "" {
		return "", httperror.NewHTTPError(http.StatusBadRequest, "authorize request missing required fields")
	}
	return f.code, nil
}

func (f *fakeGranter) ExchangeCode(_ context.Context, code, grantType string) (*auth.TokenPair, error) {
	f.lastCode = code
	f.lastGrantType = grantType
	if f.grantErr != nil {
		return nil, f.grantErr
	}
	return f.pair, nil
}

func (f *fakeGranter) RefreshTokens(_ context.Context, refreshToken string) (*auth.TokenPair, error) {
	f.lastRefresh = refreshToken
	if f.grantErr != nil {
		return nil, f.grantErr
	}
	return f.pair, nil
}

func newAuthServer(granter *fakeGranter, fallbackRedirect string) *echo.Echo {
	logger := noopLogger()
	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(logger)
	NewAuthHandler(granter, fallbackRedirect, logger).RegisterRoutes(e)
	return e
}

func testPair() *auth.TokenPair {
	return &auth.TokenPair{
		AccessToken:  "access-jwt",
		RefreshToken: "refresh-jwt",
		TokenType:    auth.TokenTypeBearer,
		Scope:        auth.TokenScope,
		ExpiresIn:    3600,
	}
}

func TestAuthorizeRedirectsWithCodeAndState(t *testing.T) {
	granter := &fakeGranter{code: "the-code"}
	e := newAuthServer(granter, "")

	req := httptest.NewRequest(http.MethodGet,
		"/auth/authorize?subdomain=acme&user_id=u1&app_id=a1&state=xyz&redirect_uri=https%3A%2F%2Fapp.example.com%2Fcallback", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get(echo.HeaderLocation))
	require.NoError(t, err)
	assert.Equal(t, "app.example.com", location.Host)
	assert.Equal(t, "/callback", location.Path)
	assert.Equal(t, "the-code", location.Query().Get("code"))
	assert.Equal(t, "xyz", location.Query().Get("state"))
}

func TestAuthorizeUsesConfiguredFallbackRedirect(t *testing.T) {
	granter := &fakeGranter{code: "the-code"}
	e := newAuthServer(granter, "https://fallback.example.com/done")

	req := httptest.NewRequest(http.MethodGet, "/auth/authorize?subdomain=acme&user_id=u1&app_id=a1&state=xyz", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get(echo.HeaderLocation), "https://fallback.example.com/done?"))
}

func TestAuthorizeMissingParams(t *testing.T) {
	granter := &fakeGranter{code: "the-code"}
	e := newAuthServer(granter, "https://fallback.example.com/done")

	req := httptest.NewRequest(http.MethodGet, "/auth/authorize?subdomain=acme", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthorizeWithoutAnyRedirect(t *testing.T) {
	granter := &fakeGranter{code: "the-code"}
	e := newAuthServer(granter, "")

	req := httptest.NewRequest(http.MethodGet, "/auth/authorize?subdomain=acme&user_id=u1&app_id=a1&state=xyz", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "redirect_uri is required")
}

func postToken(e *echo.Echo, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestTokenCodeExchange(t *testing.T) {
	granter := &fakeGranter{pair: testPair()}
	e := newAuthServer(granter, "")

	rec := postToken(e, `{"grant_type": "authorization_code", "code": "the-code"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "the-code", granter.lastCode)
	assert.Equal(t, auth.GrantTypeAuthorizationCode, granter.lastGrantType)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "access-jwt", resp["access_token"])
	assert.Equal(t, "refresh-jwt", resp["refresh_token"])
	assert.Equal(t, "Bearer", resp["token_type"])
	assert.Equal(t, "read write", resp["scope"])
	assert.Equal(t, float64(3600), resp["expires_in"])
}

func TestTokenRefreshGrant(t *testing.T) {
	granter := &fakeGranter{pair: testPair()}
	e := newAuthServer(granter, "")

	rec := postToken(e, `{"grant_type": "refresh_token", "refresh_token": "refresh-jwt"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "refresh-jwt", granter.lastRefresh)
	assert.Empty(t, granter.lastCode)
}

func TestTokenUnknownGrantTypeRejected(t *testing.T) {
	granter := &fakeGranter{grantErr: &auth.GrantError{Code: "invalid_request", Description: `unsupported grant_type "password"`}}
	e := newAuthServer(granter, "")

	rec := postToken(e, `{"grant_type": "password", "code": "whatever"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	// Unknown types route through the code exchange and reject there
	assert.Equal(t, "password", granter.lastGrantType)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_request", resp["error"])
	assert.NotEmpty(t, resp["error_description"])
}

func TestTokenGrantErrorBody(t *testing.T) {
	granter := &fakeGranter{grantErr: &auth.GrantError{Code: "invalid_grant", Description: "authorization code already used"}}
	e := newAuthServer(granter, "")

	rec := postToken(e, `{"grant_type": "authorization_code", "code": "replayed"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_grant", resp["error"])
	assert.Equal(t, "authorization code already used", resp["error_description"])
}

func TestTokenMalformedBody(t *testing.T) {
	granter := &fakeGranter{pair: testPair()}
	e := newAuthServer(granter, "")

	rec := postToken(e, `{not json`)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_request", resp["error"])
}

func TestTokenUnexpectedErrorReturns500(t *testing.T) {
	granter := &fakeGranter{grantErr: errors.New("redis down")}
	e := newAuthServer(granter, "")

	rec := postToken(e, `{"grant_type": "authorization_code", "code": "the-code"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "redis down")
}
