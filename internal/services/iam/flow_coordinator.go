package iam

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"

	"github.com/matchatime/sessiond/internal/auth"
	"github.com/matchatime/sessiond/internal/db/models"
	"github.com/matchatime/sessiond/internal/telemetry"
)

// consumedFlowCacheSize bounds the memory spent remembering completed flows.
const consumedFlowCacheSize = 10000

// IdentityExchanger is the provider side of the authorization code flow.
// *auth.RelyingParty implements it.
type IdentityExchanger interface {
	AuthCodeURL(state, nonce, verifier string) string
	Exchange(ctx context.Context, code, verifier, nonce string) (*auth.IdentityClaims, error)
}

// FederatedUserResolver finds or provisions the local account for a verified identity.
type FederatedUserResolver interface {
	ResolveFederated(ctx context.Context, identity *auth.IdentityClaims) (*models.User, error)
}

// FlowCoordinator drives the federated sign-in handshake.
//
// The flow has two states. Start produces a CSRF token, a nonce and a PKCE
// verifier that travel in the client's encrypted cookie; Complete consumes them
// exactly once. An abandoned flow needs no cleanup because nothing is stored.
type FlowCoordinator struct {
	exchanger      IdentityExchanger
	users          FederatedUserResolver
	flowTTL        time.Duration
	allowedDomains []string
	metrics        *telemetry.AuthMetrics
	now            func() time.Time

	// consumed remembers CSRF tokens of completed flows so a copied cookie
	// cannot be replayed within its lifetime.
	consumed *lru.Cache[string, struct{}]
}

// FlowCoordinatorOptions tunes a FlowCoordinator.
type FlowCoordinatorOptions struct {
	FlowTTL        time.Duration
	AllowedDomains []string
	Metrics        *telemetry.AuthMetrics
	Now            func() time.Time
}

// NewFlowCoordinator creates a coordinator for exchanger.
func NewFlowCoordinator(exchanger IdentityExchanger, users FederatedUserResolver, opts FlowCoordinatorOptions) (*FlowCoordinator, error) {
	consumed, err := lru.New[string, struct{}](consumedFlowCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create consumed flow cache: %w", err)
	}
	if opts.FlowTTL <= 0 {
		opts.FlowTTL = 10 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	domains := make([]string, 0, len(opts.AllowedDomains))
	for _, d := range opts.AllowedDomains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			domains = append(domains, d)
		}
	}
	return &FlowCoordinator{
		exchanger:      exchanger,
		users:          users,
		flowTTL:        opts.FlowTTL,
		allowedDomains: domains,
		metrics:        opts.Metrics,
		now:            opts.Now,
		consumed:       consumed,
	}, nil
}

// Start begins a flow. The returned state must be sealed into the flow cookie.
func (f *FlowCoordinator) Start() (string, *auth.OidcFlowState, error) {
	csrf, err := auth.RandomString(auth.TokenLength)
	if err != nil {
		return "", nil, err
	}
	nonce, err := auth.RandomString(auth.TokenLength)
	if err != nil {
		return "", nil, err
	}
	state := &auth.OidcFlowState{
		CSRFToken:    csrf,
		Nonce:        nonce,
		PKCEVerifier: oauth2.GenerateVerifier(),
		CreatedAt:    f.now(),
	}
	return f.exchanger.AuthCodeURL(state.CSRFToken, state.Nonce, state.PKCEVerifier), state, nil
}

// Complete validates the callback against stored and resolves the local user.
//
// Checks run in order and stop at the first failure:
//  1. state must equal stored.CSRFToken (auth.ErrCsrfMismatch)
//  2. code exchange with the PKCE verifier (auth.ErrProviderExchange)
//  3. ID token signature and nonce (auth.ErrBadIdentityToken)
//  4. verified email (auth.ErrIdentityUnverified)
func (f *FlowCoordinator) Complete(ctx context.Context, code, state string, stored *auth.OidcFlowState) (user *models.User, err error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerName, "iam.CompleteFederatedLogin")
	defer span.End()
	defer func() {
		result := "success"
		if err != nil {
			result = callbackResult(err)
			telemetry.RecordError(span, err)
		}
		span.SetAttributes(attribute.String(telemetry.AttrAuthResult, result))
		f.metrics.RecordOIDCCallback(ctx, result)
	}()

	if stored == nil {
		return nil, fmt.Errorf("%w: %w", auth.ErrCsrfMismatch, auth.ErrFlowStateMissing)
	}
	if state == "" || subtle.ConstantTimeCompare([]byte(state), []byte(stored.CSRFToken)) != 1 {
		return nil, auth.ErrCsrfMismatch
	}
	if stored.Expired(f.now(), f.flowTTL) {
		return nil, fmt.Errorf("%w: %w", auth.ErrCsrfMismatch, auth.ErrFlowStateMissing)
	}
	if seen, _ := f.consumed.ContainsOrAdd(stored.CSRFToken, struct{}{}); seen {
		return nil, fmt.Errorf("%w: flow already completed", auth.ErrCsrfMismatch)
	}
	if code == "" {
		return nil, fmt.Errorf("%w: callback carried no code", auth.ErrProviderExchange)
	}

	started := time.Now()
	identity, err := f.exchanger.Exchange(ctx, code, stored.PKCEVerifier, stored.Nonce)
	f.metrics.RecordExchange(ctx, float64(time.Since(started).Milliseconds()))
	if err != nil {
		return nil, err
	}

	if identity.Email == "" {
		return nil, fmt.Errorf("%w: no email claim", auth.ErrBadIdentityToken)
	}
	if !identity.EmailVerified {
		return nil, auth.ErrIdentityUnverified
	}
	if !f.domainAllowed(identity) {
		return nil, auth.ErrDomainNotAllowed
	}

	return f.users.ResolveFederated(ctx, identity)
}

func (f *FlowCoordinator) domainAllowed(identity *auth.IdentityClaims) bool {
	if len(f.allowedDomains) == 0 {
		return true
	}
	domain := strings.ToLower(identity.HostedDomain)
	if domain == "" {
		_, domain, _ = strings.Cut(auth.NormalizeEmail(identity.Email), "@")
	}
	return slices.Contains(f.allowedDomains, domain)
}

func callbackResult(err error) string {
	switch {
	case errors.Is(err, auth.ErrCsrfMismatch):
		return "csrf_mismatch"
	case errors.Is(err, auth.ErrProviderExchange):
		return "exchange_failed"
	case errors.Is(err, auth.ErrBadIdentityToken):
		return "bad_id_token"
	case errors.Is(err, auth.ErrIdentityUnverified), errors.Is(err, auth.ErrDomainNotAllowed):
		return "rejected"
	default:
		return "error"
	}
}
