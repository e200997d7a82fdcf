package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/matchatime/sessiond/internal/auth"
	"github.com/matchatime/sessiond/internal/config"
	"github.com/matchatime/sessiond/internal/db/bunx"
	"github.com/matchatime/sessiond/internal/mailer"
	"github.com/matchatime/sessiond/internal/migrations"
	"github.com/matchatime/sessiond/internal/repository"
	"github.com/matchatime/sessiond/internal/services/iam"
)

// testServer is a router over a real service and an in-memory SQLite store.
type testServer struct {
	t         *testing.T
	db        *bun.DB
	handler   http.Handler
	cfg       *config.Config
	exchanger *stubExchanger
}

type serverOption func(*config.Config)

func withVerificationRequired(c *config.Config) { c.Auth.RequireVerifiedEmail = true }

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()

	db, err := bunx.NewDB("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = bunx.Close(db) })
	_, err = migrations.Apply(context.Background(), db)
	require.NoError(t, err)

	cfg := &config.Config{
		Environment: config.EnvironmentDevelopment,
		FrontendURL: "http://localhost:5173",
		Auth: config.AuthConfig{
			JWTSecret:        strings.Repeat("s", 32),
			AccessTTL:        15 * time.Minute,
			RefreshTTL:       24 * time.Hour,
			BcryptCost:       4,
			VerificationTTL:  time.Hour,
			PasswordResetTTL: time.Hour,
		},
		Cookie: config.CookieConfig{
			Secret:  strings.Repeat("k", 64),
			FlowTTL: 10 * time.Minute,
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	codec, err := auth.NewTokenCodec([]byte(cfg.Auth.JWTSecret), cfg.Auth.AccessTTL)
	require.NoError(t, err)

	hashKey, blockKey := cfg.Cookie.Keys()
	flowCookie, err := auth.NewFlowStateCookie(hashKey, blockKey, cfg.Cookie.FlowTTL, true, "")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	exchanger := &stubExchanger{identity: &auth.IdentityClaims{
		Subject: "google-1", Email: "popup@example.com", EmailVerified: true, Name: "Popup User",
	}}

	svc, err := iam.NewIAMService(iam.IAMServiceDependencies{
		Users:         repository.NewBunUserRepository(db),
		RefreshTokens: repository.NewBunRefreshTokenStore(db, cfg.Auth.RefreshTTL),
		OneTimeTokens: repository.NewBunOneTimeTokenRepository(db),
		Codec:         codec,
		Hasher:        auth.NewHasher(cfg.Auth.BcryptCost),
		Exchanger:     exchanger,
		Mailer:        mailer.LogMailer{Logger: logger},
		Logger:        logger,
	}, iam.IAMServiceConfig{Config: cfg})
	require.NoError(t, err)

	return &testServer{
		t:  t,
		db: db,
		handler: NewRouter(RouterOptions{
			IAMService: svc,
			Cfg:        cfg,
			FlowCookie: flowCookie,
			DB:         db,
			Logger:     logger,
		}),
		cfg:       cfg,
		exchanger: exchanger,
	}
}

// do sends a request with an optional JSON body and cookies.
func (s *testServer) do(method, target string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) register(email, password string) *httptest.ResponseRecorder {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/auth/register", map[string]string{
		"username": strings.Split(email, "@")[0],
		"email":    email,
		"password": password,
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return rec
}

func responseCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// stubExchanger plays the identity provider.
type stubExchanger struct {
	identity *auth.IdentityClaims
	err      error
}

func (s *stubExchanger) AuthCodeURL(state, nonce, verifier string) string {
	return "https://idp.example.com/authorize?state=" + state
}

func (s *stubExchanger) Exchange(context.Context, string, string, string) (*auth.IdentityClaims, error) {
	if s.err != nil {
		return nil, s.err
	}
	identity := *s.identity
	return &identity, nil
}
