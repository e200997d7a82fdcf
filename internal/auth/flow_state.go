package auth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	httphelper "github.com/zitadel/oidc/v3/pkg/http"
)

// OidcFlowState is carried between the federated start and callback requests in
// an encrypted cookie. Nothing about an in-flight flow is stored server-side.
type OidcFlowState struct {
	CSRFToken    string    `json:"csrf_token"`
	Nonce        string    `json:"nonce"`
	PKCEVerifier string    `json:"pkce_verifier"`
	CreatedAt    time.Time `json:"created_at"`
}

// Expired reports whether the flow is older than ttl at now.
func (s *OidcFlowState) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.CreatedAt) > ttl
}

// FlowStateCookie seals OidcFlowState into the oidc_flow cookie using an
// authenticated, encrypted securecookie codec.
type FlowStateCookie struct {
	handler *httphelper.CookieHandler
	ttl     time.Duration
}

// NewFlowStateCookie builds the codec. hashKey authenticates and blockKey encrypts
// the cookie; both must be 32 bytes. The cookie is always SameSite=Lax because
// the callback arrives as a cross-site top-level navigation from the provider.
func NewFlowStateCookie(hashKey, blockKey []byte, ttl time.Duration, development bool, domain string) (*FlowStateCookie, error) {
	if len(hashKey) != 32 || len(blockKey) != 32 {
		return nil, fmt.Errorf("flow cookie keys must be 32 bytes each")
	}
	opts := []httphelper.CookieHandlerOpt{
		httphelper.WithSameSite(http.SameSiteLaxMode),
		httphelper.WithMaxAge(int(ttl / time.Second)),
	}
	if development {
		opts = append(opts, httphelper.WithUnsecure())
	}
	if domain != "" {
		opts = append(opts, httphelper.WithDomain(domain))
	}
	return &FlowStateCookie{
		handler: httphelper.NewCookieHandler(hashKey, blockKey, opts...),
		ttl:     ttl,
	}, nil
}

// TTL is how long a started flow remains completable.
func (c *FlowStateCookie) TTL() time.Duration { return c.ttl }

// Save writes state into the response.
func (c *FlowStateCookie) Save(w http.ResponseWriter, state *OidcFlowState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode flow state: %w", err)
	}
	if err := c.handler.SetCookie(w, FlowCookieName, string(payload)); err != nil {
		return fmt.Errorf("seal flow state: %w", err)
	}
	return nil
}

// Load reads the flow state from r. A missing, tampered or undecodable cookie
// returns ErrFlowStateMissing.
func (c *FlowStateCookie) Load(r *http.Request) (*OidcFlowState, error) {
	value, err := c.handler.CheckCookie(r, FlowCookieName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFlowStateMissing, err)
	}
	var state OidcFlowState
	if err := json.Unmarshal([]byte(value), &state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFlowStateMissing, err)
	}
	return &state, nil
}

// Clear expires the flow cookie. The state is single use.
func (c *FlowStateCookie) Clear(w http.ResponseWriter) {
	c.handler.DeleteCookie(w, FlowCookieName)
}
