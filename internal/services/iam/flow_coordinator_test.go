package iam

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchatime/sessiond/internal/auth"
	"github.com/matchatime/sessiond/internal/db/models"
)

// stubResolver returns a fixed user for any identity.
type stubResolver struct {
	calls int
}

func (s *stubResolver) ResolveFederated(_ context.Context, identity *auth.IdentityClaims) (*models.User, error) {
	s.calls++
	return &models.User{ID: "user-" + identity.Subject, Email: identity.Email, EmailVerified: true}, nil
}

func verifiedIdentity() *auth.IdentityClaims {
	return &auth.IdentityClaims{Subject: "sub-1", Email: "quinn@corp.example", EmailVerified: true, Name: "Quinn"}
}

func newTestCoordinator(t *testing.T, exchanger *fakeExchanger, opts FlowCoordinatorOptions) (*FlowCoordinator, *stubResolver) {
	t.Helper()
	resolver := &stubResolver{}
	coordinator, err := NewFlowCoordinator(exchanger, resolver, opts)
	require.NoError(t, err)
	return coordinator, resolver
}

func TestFlowCoordinator_Start(t *testing.T) {
	coordinator, _ := newTestCoordinator(t, &fakeExchanger{}, FlowCoordinatorOptions{})

	redirect, state, err := coordinator.Start()
	require.NoError(t, err)

	u, err := url.Parse(redirect)
	require.NoError(t, err)
	assert.Equal(t, state.CSRFToken, u.Query().Get("state"))
	assert.NotEmpty(t, state.Nonce)
	assert.NotEqual(t, state.CSRFToken, state.Nonce)
	assert.GreaterOrEqual(t, len(state.PKCEVerifier), 43)
	assert.False(t, state.CreatedAt.IsZero())

	_, other, err := coordinator.Start()
	require.NoError(t, err)
	assert.NotEqual(t, state.CSRFToken, other.CSRFToken)
}

func TestFlowCoordinator_Complete(t *testing.T) {
	exchanger := &fakeExchanger{identity: verifiedIdentity()}
	coordinator, resolver := newTestCoordinator(t, exchanger, FlowCoordinatorOptions{})

	_, state, err := coordinator.Start()
	require.NoError(t, err)

	user, err := coordinator.Complete(context.Background(), "code", state.CSRFToken, state)
	require.NoError(t, err)
	assert.Equal(t, "user-sub-1", user.ID)
	assert.Equal(t, 1, resolver.calls)
	assert.Equal(t, state.PKCEVerifier, exchanger.verifier)
	assert.Equal(t, state.Nonce, exchanger.nonce)
}

func TestFlowCoordinator_CompleteRejects(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name          string
		identity      *auth.IdentityClaims
		exchangeErr   error
		opts          FlowCoordinatorOptions
		code          string
		state         func(s *auth.OidcFlowState) string
		stored        func(s *auth.OidcFlowState) *auth.OidcFlowState
		wantErr       error
		wantExchanged bool
	}{
		{
			name:    "missing flow cookie",
			stored:  func(*auth.OidcFlowState) *auth.OidcFlowState { return nil },
			wantErr: auth.ErrCsrfMismatch,
		},
		{
			name:    "state mismatch",
			state:   func(*auth.OidcFlowState) string { return "attacker-state" },
			wantErr: auth.ErrCsrfMismatch,
		},
		{
			name:    "empty state",
			state:   func(*auth.OidcFlowState) string { return "" },
			wantErr: auth.ErrCsrfMismatch,
		},
		{
			name: "expired flow",
			stored: func(s *auth.OidcFlowState) *auth.OidcFlowState {
				s.CreatedAt = now.Add(-time.Hour)
				return s
			},
			wantErr: auth.ErrFlowStateMissing,
		},
		{
			name:    "missing code",
			code:    "-",
			wantErr: auth.ErrProviderExchange,
		},
		{
			name:          "exchange failure",
			exchangeErr:   auth.ErrProviderExchange,
			wantErr:       auth.ErrProviderExchange,
			wantExchanged: true,
		},
		{
			name:          "bad id token",
			exchangeErr:   auth.ErrBadIdentityToken,
			wantErr:       auth.ErrBadIdentityToken,
			wantExchanged: true,
		},
		{
			name:          "unverified email",
			identity:      &auth.IdentityClaims{Subject: "sub-1", Email: "quinn@corp.example"},
			wantErr:       auth.ErrIdentityUnverified,
			wantExchanged: true,
		},
		{
			name:          "no email",
			identity:      &auth.IdentityClaims{Subject: "sub-1", EmailVerified: true},
			wantErr:       auth.ErrBadIdentityToken,
			wantExchanged: true,
		},
		{
			name:          "domain not allowed",
			opts:          FlowCoordinatorOptions{AllowedDomains: []string{"other.example"}},
			wantErr:       auth.ErrDomainNotAllowed,
			wantExchanged: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			identity := tt.identity
			if identity == nil {
				identity = verifiedIdentity()
			}
			exchanger := &fakeExchanger{identity: identity, err: tt.exchangeErr}
			coordinator, resolver := newTestCoordinator(t, exchanger, tt.opts)

			_, started, err := coordinator.Start()
			require.NoError(t, err)

			state := started.CSRFToken
			if tt.state != nil {
				state = tt.state(started)
			}
			stored := started
			if tt.stored != nil {
				stored = tt.stored(started)
			}
			code := "code"
			if tt.code == "-" {
				code = ""
			}

			user, err := coordinator.Complete(context.Background(), code, state, stored)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, user)
			assert.Zero(t, resolver.calls)
			assert.Equal(t, tt.wantExchanged, exchanger.calls > 0)
		})
	}
}

func TestFlowCoordinator_ReplayRejected(t *testing.T) {
	exchanger := &fakeExchanger{identity: verifiedIdentity()}
	coordinator, _ := newTestCoordinator(t, exchanger, FlowCoordinatorOptions{})

	_, state, err := coordinator.Start()
	require.NoError(t, err)

	_, err = coordinator.Complete(context.Background(), "code", state.CSRFToken, state)
	require.NoError(t, err)

	_, err = coordinator.Complete(context.Background(), "code", state.CSRFToken, state)
	assert.ErrorIs(t, err, auth.ErrCsrfMismatch)
	assert.Equal(t, 1, exchanger.calls)
}

func TestFlowCoordinator_FailedFlowCannotBeRetried(t *testing.T) {
	exchanger := &fakeExchanger{identity: verifiedIdentity(), err: errors.Join(auth.ErrProviderExchange, errors.New("timeout"))}
	coordinator, _ := newTestCoordinator(t, exchanger, FlowCoordinatorOptions{})

	_, state, err := coordinator.Start()
	require.NoError(t, err)

	_, err = coordinator.Complete(context.Background(), "code", state.CSRFToken, state)
	assert.ErrorIs(t, err, auth.ErrProviderExchange)

	exchanger.err = nil
	_, err = coordinator.Complete(context.Background(), "code", state.CSRFToken, state)
	assert.ErrorIs(t, err, auth.ErrCsrfMismatch)
}

func TestFlowCoordinator_AllowedDomains(t *testing.T) {
	tests := []struct {
		name     string
		identity auth.IdentityClaims
		allowed  []string
		want     bool
	}{
		{name: "no restriction", identity: auth.IdentityClaims{Email: "a@any.example"}, want: true},
		{name: "email domain", identity: auth.IdentityClaims{Email: "a@Corp.Example"}, allowed: []string{"corp.example"}, want: true},
		{name: "hosted domain wins", identity: auth.IdentityClaims{Email: "a@gmail.com", HostedDomain: "corp.example"}, allowed: []string{" CORP.example "}, want: true},
		{name: "other domain", identity: auth.IdentityClaims{Email: "a@gmail.com"}, allowed: []string{"corp.example"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coordinator, _ := newTestCoordinator(t, &fakeExchanger{}, FlowCoordinatorOptions{AllowedDomains: tt.allowed})
			assert.Equal(t, tt.want, coordinator.domainAllowed(&tt.identity))
		})
	}
}
