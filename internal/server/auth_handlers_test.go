package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchatime/sessiond/internal/auth"
	"github.com/matchatime/sessiond/internal/db/models"
)

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"), "development has no HSTS")

	rec = s.do(http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", decodeBody[healthResponse](t, rec).Status)
}

func TestRegisterAndLogin(t *testing.T) {
	s := newTestServer(t)

	rec := s.register("alice@example.com", "password123")
	reg := decodeBody[registerResponse](t, rec)
	assert.False(t, reg.VerificationRequired)
	assert.NotEmpty(t, reg.AccessToken)
	require.NotNil(t, responseCookie(rec, auth.AccessCookieName))

	rec = s.do(http.MethodPost, "/auth/login", map[string]string{"email": "alice@example.com", "password": "password123"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody[sessionResponse](t, rec)
	assert.NotEmpty(t, body.AccessToken)
	assert.NotEmpty(t, body.RefreshToken)
	assert.Equal(t, "alice@example.com", body.User.Email)

	access := responseCookie(rec, auth.AccessCookieName)
	refresh := responseCookie(rec, auth.RefreshCookieName)
	require.NotNil(t, access)
	require.NotNil(t, refresh)
	assert.True(t, access.HttpOnly)
	assert.True(t, refresh.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, refresh.SameSite)
	assert.Equal(t, body.RefreshToken, refresh.Value)
	assert.Equal(t, int(s.cfg.Auth.RefreshTTL.Seconds()), refresh.MaxAge)
}

func TestLogin_GenericFailures(t *testing.T) {
	s := newTestServer(t)
	s.register("bob@example.com", "password123")

	wrong := s.do(http.MethodPost, "/auth/login", map[string]string{"email": "bob@example.com", "password": "password999"})
	unknown := s.do(http.MethodPost, "/auth/login", map[string]string{"email": "nobody@example.com", "password": "password123"})

	assert.Equal(t, http.StatusUnauthorized, wrong.Code)
	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.JSONEq(t, wrong.Body.String(), unknown.Body.String())
	assert.Nil(t, responseCookie(wrong, auth.AccessCookieName))
}

func TestRegister_Validation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantField  string
	}{
		{name: "bad email", body: map[string]string{"username": "carl", "email": "nope", "password": "password123"}, wantStatus: http.StatusBadRequest, wantField: "email"},
		{name: "weak password", body: map[string]string{"username": "carl", "email": "carl@example.com", "password": "abc"}, wantStatus: http.StatusBadRequest, wantField: "password"},
		{name: "password over 72 bytes", body: map[string]string{"username": "carl", "email": "carl@example.com", "password": strings.Repeat("a1", 45) + "b"}, wantStatus: http.StatusBadRequest, wantField: "password"},
		{name: "unknown field", body: map[string]string{"username": "carl", "email": "carl@example.com", "password": "password123", "admin": "true"}, wantStatus: http.StatusBadRequest, wantField: "body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/auth/register", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantField, decodeBody[errorResponse](t, rec).Field)
		})
	}

	s.register("dana@example.com", "password123")
	rec := s.do(http.MethodPost, "/auth/register", map[string]string{"username": "dana2", "email": "dana@example.com", "password": "password123"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRefresh_RotatesCookies(t *testing.T) {
	s := newTestServer(t)
	rec := s.register("erin@example.com", "password123")
	first := responseCookie(rec, auth.RefreshCookieName)
	require.NotNil(t, first)

	rec = s.do(http.MethodPost, "/auth/refresh", nil, first)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	second := responseCookie(rec, auth.RefreshCookieName)
	require.NotNil(t, second)
	assert.NotEqual(t, first.Value, second.Value)
	assert.NotNil(t, responseCookie(rec, auth.AccessCookieName))

	// The old token is rejected and the cookies are cleared.
	rec = s.do(http.MethodPost, "/auth/refresh", nil, first)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, msgInvalidSession, decodeBody[errorResponse](t, rec).Error)
	cleared := responseCookie(rec, auth.RefreshCookieName)
	require.NotNil(t, cleared)
	assert.Negative(t, cleared.MaxAge)

	// Reuse revoked the successor too.
	rec = s.do(http.MethodPost, "/auth/refresh", nil, second)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefresh_MissingCookie(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/auth/refresh", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, responseCookie(rec, auth.AccessCookieName))
	assert.Negative(t, responseCookie(rec, auth.AccessCookieName).MaxAge)
}

func TestRefresh_Expired(t *testing.T) {
	s := newTestServer(t)
	rec := s.register("fay@example.com", "password123")
	refresh := responseCookie(rec, auth.RefreshCookieName)

	_, err := s.db.NewUpdate().Model((*models.RefreshToken)(nil)).
		Set("expires_at = ?", time.Now().UTC().Add(-time.Minute)).
		Where("token_hash = ?", auth.HashToken(refresh.Value)).
		Exec(context.Background())
	require.NoError(t, err)

	rec = s.do(http.MethodPost, "/auth/refresh", nil, refresh)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, msgSessionExpired, decodeBody[errorResponse](t, rec).Error)
	assert.Negative(t, responseCookie(rec, auth.RefreshCookieName).MaxAge)
}

func TestMe(t *testing.T) {
	s := newTestServer(t)
	rec := s.register("gus@example.com", "password123")
	access := responseCookie(rec, auth.AccessCookieName)

	rec = s.do(http.MethodGet, "/auth/me", nil, access)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gus@example.com", decodeBody[userResponse](t, rec).Email)

	rec = s.do(http.MethodGet, "/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing", decodeBody[map[string]string](t, rec)["reason"])

	rec = s.do(http.MethodGet, "/auth/me", nil, &http.Cookie{Name: auth.AccessCookieName, Value: "junk"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "malformed", decodeBody[map[string]string](t, rec)["reason"])
}

func TestLogout_AlwaysClearsCookies(t *testing.T) {
	s := newTestServer(t)
	rec := s.register("hal@example.com", "password123")
	refresh := responseCookie(rec, auth.RefreshCookieName)

	rec = s.do(http.MethodPost, "/auth/logout", nil, refresh)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Negative(t, responseCookie(rec, auth.RefreshCookieName).MaxAge)
	assert.Negative(t, responseCookie(rec, auth.AccessCookieName).MaxAge)

	rec = s.do(http.MethodPost, "/auth/refresh", nil, refresh)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// No cookie at all still succeeds.
	rec = s.do(http.MethodPost, "/auth/logout", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogoutAll(t *testing.T) {
	s := newTestServer(t)
	rec := s.register("ida@example.com", "password123")
	access := responseCookie(rec, auth.AccessCookieName)
	refresh := responseCookie(rec, auth.RefreshCookieName)
	s.do(http.MethodPost, "/auth/login", map[string]string{"email": "ida@example.com", "password": "password123"})

	rec = s.do(http.MethodPost, "/auth/logout-all", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/auth/logout-all", nil, access)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decodeBody[logoutAllResponse](t, rec).Revoked)

	rec = s.do(http.MethodPost, "/auth/refresh", nil, refresh)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestVerificationRequired(t *testing.T) {
	s := newTestServer(t, withVerificationRequired)

	rec := s.register("joan@example.com", "password123")
	reg := decodeBody[registerResponse](t, rec)
	assert.True(t, reg.VerificationRequired)
	assert.Empty(t, reg.AccessToken)
	assert.Nil(t, responseCookie(rec, auth.AccessCookieName))

	rec = s.do(http.MethodPost, "/auth/login", map[string]string{"email": "joan@example.com", "password": "password123"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/auth/verify-email", map[string]string{"token": "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	for _, path := range []string{"/auth/resend-verification", "/auth/password-reset/request"} {
		rec = s.do(http.MethodPost, path, map[string]string{"email": "nobody@example.com"})
		assert.Equal(t, http.StatusAccepted, rec.Code, path)
	}

	rec = s.do(http.MethodPost, "/auth/password-reset/confirm", map[string]string{"token": "bogus", "password": "password456"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// startFlow runs /auth/google and returns the flow cookie and state.
func startFlow(t *testing.T, s *testServer) (*http.Cookie, string) {
	t.Helper()
	rec := s.do(http.MethodGet, "/auth/google", nil)
	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	flow := responseCookie(rec, auth.FlowCookieName)
	require.NotNil(t, flow)
	return flow, location.Query().Get("state")
}

func TestGoogleCallback_Success(t *testing.T) {
	s := newTestServer(t)
	flow, state := startFlow(t, s)

	rec := s.do(http.MethodGet, "/auth/callback?code=abc&state="+url.QueryEscape(state), nil, flow)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), popupSuccess)
	assert.Contains(t, rec.Body.String(), s.cfg.FrontendURL)
	assert.NotNil(t, responseCookie(rec, auth.AccessCookieName))
	assert.NotNil(t, responseCookie(rec, auth.RefreshCookieName))

	// The same flow cannot be completed twice.
	rec = s.do(http.MethodGet, "/auth/callback?code=abc&state="+url.QueryEscape(state), nil, flow)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, responseCookie(rec, auth.AccessCookieName))
}

func TestGoogleCallback_Failures(t *testing.T) {
	tests := []struct {
		name        string
		withCookie  bool
		state       func(real string) string
		query       string
		exchangeErr error
		wantStatus  int
	}{
		{name: "state mismatch", withCookie: true, state: func(string) string { return "forged" }, wantStatus: http.StatusBadRequest},
		{name: "missing flow cookie", state: func(s string) string { return s }, wantStatus: http.StatusBadRequest},
		{name: "provider error", withCookie: true, state: func(s string) string { return s }, query: "&error=access_denied", wantStatus: http.StatusBadGateway},
		{name: "exchange failed", withCookie: true, state: func(s string) string { return s }, exchangeErr: auth.ErrProviderExchange, wantStatus: http.StatusBadGateway},
		{name: "unexpected failure", withCookie: true, state: func(s string) string { return s }, exchangeErr: errors.New("boom"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			s.exchanger.err = tt.exchangeErr
			flow, state := startFlow(t, s)

			var cookies []*http.Cookie
			if tt.withCookie {
				cookies = append(cookies, flow)
			}
			rec := s.do(http.MethodGet, "/auth/callback?code=abc&state="+url.QueryEscape(tt.state(state))+tt.query, nil, cookies...)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), popupError)
			assert.NotContains(t, rec.Body.String(), "boom")
			assert.Nil(t, responseCookie(rec, auth.AccessCookieName))
			cleared := responseCookie(rec, auth.FlowCookieName)
			require.NotNil(t, cleared)
			assert.Negative(t, cleared.MaxAge)
		})
	}
}

func TestGoogle_DisabledWithoutFlowCookie(t *testing.T) {
	h := NewAuthHandlers(nil, auth.NewCookiePolicy(true, "", 0, 0), nil, "", nil)

	for _, handler := range []http.HandlerFunc{h.GoogleStart, h.GoogleCallback} {
		rec := httptest.NewRecorder()
		handler(rec, httptest.NewRequest(http.MethodGet, "/auth/google", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}
}
