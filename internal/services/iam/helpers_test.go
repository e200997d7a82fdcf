package iam

import (
	"context"
	"net/url"
	"strings"
	"sync"
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
)

const testSecret = "0123456789abcdef0123456789abcdef"

// testEnv bundles a service with direct access to its stores.
type testEnv struct {
	db            *bun.DB
	svc           Service
	codec         *auth.TokenCodec
	users         *repository.BunUserRepository
	refreshTokens *repository.BunRefreshTokenStore
	mail          *recordingMailer
	exchanger     *fakeExchanger
}

type envOption func(*config.Config, *IAMServiceDependencies)

func requireVerified(c *config.Config, _ *IAMServiceDependencies) {
	c.Auth.RequireVerifiedEmail = true
}

func withExchanger(x *fakeExchanger) envOption {
	return func(_ *config.Config, d *IAMServiceDependencies) { d.Exchanger = x }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	db, err := bunx.NewDB("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = bunx.Close(db) })
	_, err = migrations.Apply(context.Background(), db)
	require.NoError(t, err)

	codec, err := auth.NewTokenCodec([]byte(testSecret), 15*time.Minute)
	require.NoError(t, err)

	cfg := &config.Config{
		FrontendURL: "http://localhost:3000",
		Auth: config.AuthConfig{
			AccessTTL:        15 * time.Minute,
			RefreshTTL:       24 * time.Hour,
			VerificationTTL:  time.Hour,
			PasswordResetTTL: time.Hour,
		},
		Cookie: config.CookieConfig{FlowTTL: 10 * time.Minute},
		Jobs:   config.JobsConfig{UnverifiedAccountTTL: 72 * time.Hour},
	}

	env := &testEnv{
		db:            db,
		codec:         codec,
		users:         repository.NewBunUserRepository(db),
		refreshTokens: repository.NewBunRefreshTokenStore(db, cfg.Auth.RefreshTTL),
		mail:          &recordingMailer{},
	}
	deps := IAMServiceDependencies{
		Users:         env.users,
		RefreshTokens: env.refreshTokens,
		OneTimeTokens: repository.NewBunOneTimeTokenRepository(db),
		Codec:         codec,
		Hasher:        auth.NewHasher(4),
		Mailer:        env.mail,
	}
	for _, opt := range opts {
		opt(cfg, &deps)
	}
	if x, ok := deps.Exchanger.(*fakeExchanger); ok {
		env.exchanger = x
	}

	svc, err := NewIAMService(deps, IAMServiceConfig{Config: cfg})
	require.NoError(t, err)
	env.svc = svc
	return env
}

// register creates a local account and returns its first session.
func (e *testEnv) register(t *testing.T, email, password string) *Session {
	t.Helper()
	username := strings.ReplaceAll(strings.Split(email, "@")[0], ".", "_")
	result, err := e.svc.Register(context.Background(), RegisterInput{
		Username: username,
		Email:    email,
		Password: password,
	}, ClientInfo{})
	require.NoError(t, err)
	return result.Session
}

// recordingMailer captures messages instead of sending them.
type recordingMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
}

func (r *recordingMailer) Send(_ context.Context, msg mailer.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingMailer) last(t *testing.T) mailer.Message {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.sent, "no email sent")
	return r.sent[len(r.sent)-1]
}

func (r *recordingMailer) count(kind mailer.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.sent {
		if m.Kind == kind {
			n++
		}
	}
	return n
}

// tokenFromLink extracts the token query parameter from the emailed link.
func tokenFromLink(t *testing.T, body string) string {
	t.Helper()
	_, rest, found := strings.Cut(body, "token=")
	require.True(t, found, "no token in %q", body)
	end := strings.IndexAny(rest, " \n\r\t&\"")
	if end >= 0 {
		rest = rest[:end]
	}
	token, err := url.QueryUnescape(rest)
	require.NoError(t, err)
	return token
}

// fakeExchanger stands in for the identity provider.
type fakeExchanger struct {
	mu       sync.Mutex
	identity *auth.IdentityClaims
	err      error
	calls    int
	verifier string
	nonce    string
}

func (f *fakeExchanger) AuthCodeURL(state, nonce, verifier string) string {
	return "https://accounts.example.com/auth?state=" + state
}

func (f *fakeExchanger) Exchange(_ context.Context, code, verifier, nonce string) (*auth.IdentityClaims, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.verifier = verifier
	f.nonce = nonce
	if f.err != nil {
		return nil, f.err
	}
	identity := *f.identity
	return &identity, nil
}
