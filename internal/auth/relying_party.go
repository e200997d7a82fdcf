package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/zitadel/oidc/v3/pkg/client/rp"
	"github.com/zitadel/oidc/v3/pkg/oidc"
	"golang.org/x/oauth2"

	"github.com/matchatime/sessiond/internal/config"
)

// IdentityClaims is the verified subset of an ID token used to resolve a local user.
type IdentityClaims struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
	HostedDomain  string
	Locale        string
}

// extraClaims are provider-specific claims that oidc.IDTokenClaims leaves in its raw map.
type extraClaims struct {
	HostedDomain string `mapstructure:"hd"`
	Locale       string `mapstructure:"locale"`
}

type nonceContextKey struct{}

func withExpectedNonce(ctx context.Context, nonce string) context.Context {
	return context.WithValue(ctx, nonceContextKey{}, nonce)
}

func expectedNonce(ctx context.Context) string {
	nonce, _ := ctx.Value(nonceContextKey{}).(string)
	return nonce
}

// RelyingParty talks to the external OpenID provider through zitadel/oidc.
// PKCE and state are handled by the caller; this type only builds the
// authorization URL, exchanges the code and verifies the ID token.
type RelyingParty struct {
	rp      rp.RelyingParty
	timeout time.Duration
}

// NewRelyingParty discovers the provider configuration for cfg.Issuer.
func NewRelyingParty(ctx context.Context, cfg config.OIDCConfig, httpClient *http.Client) (*RelyingParty, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.ExchangeTimeout}
	}
	options := []rp.Option{
		rp.WithHTTPClient(httpClient),
		rp.WithVerifierOpts(
			rp.WithNonce(expectedNonce),
			rp.WithIssuedAtMaxAge(5*time.Minute),
		),
	}

	relyingParty, err := rp.NewRelyingPartyOIDC(ctx, cfg.Issuer, cfg.ClientID, cfg.ClientSecret, cfg.RedirectURI,
		cfg.Scopes, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC relying party: %w", err)
	}

	timeout := cfg.ExchangeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RelyingParty{rp: relyingParty, timeout: timeout}, nil
}

// AuthCodeURL returns the provider authorization URL carrying state, nonce and the S256 challenge of verifier.
func (r *RelyingParty) AuthCodeURL(state, nonce, verifier string) string {
	return r.rp.OAuthConfig().AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("nonce", nonce),
	)
}

// Exchange redeems code with the PKCE verifier and verifies the returned ID token
// against nonce. Transport and provider errors wrap ErrProviderExchange; a missing
// or invalid ID token wraps ErrBadIdentityToken. The exchange is never retried.
func (r *RelyingParty) Exchange(ctx context.Context, code, verifier, nonce string) (*IdentityClaims, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.rp.HttpClient())

	token, err := r.rp.OAuthConfig().Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderExchange, err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("%w: response has no id_token", ErrBadIdentityToken)
	}

	claims, err := rp.VerifyIDToken[*oidc.IDTokenClaims](withExpectedNonce(ctx, nonce), rawIDToken, r.rp.IDTokenVerifier())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadIdentityToken, err)
	}

	return identityFromClaims(claims), nil
}

func identityFromClaims(claims *oidc.IDTokenClaims) *IdentityClaims {
	identity := &IdentityClaims{
		Subject:       claims.Subject,
		Email:         claims.Email,
		EmailVerified: bool(claims.EmailVerified),
		Name:          claims.Name,
		Picture:       claims.Picture,
	}
	var extra extraClaims
	if err := mapstructure.Decode(claims.Claims, &extra); err == nil {
		identity.HostedDomain = extra.HostedDomain
		identity.Locale = extra.Locale
	}
	return identity
}
