package auth

import (
	"net/http"
	"time"
)

// Cookie names shared by the handlers and the request authenticator.
const (
	AccessCookieName  = "auth_token"
	RefreshCookieName = "refresh_token"
	FlowCookieName    = "oidc_flow"
)

// CookiePolicy decides the attributes of the session cookies. Production uses
// Secure + SameSite=Strict, development relaxes to SameSite=Lax over plain HTTP.
type CookiePolicy struct {
	Secure     bool
	SameSite   http.SameSite
	Domain     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// NewCookiePolicy returns the policy for the given environment.
func NewCookiePolicy(development bool, domain string, accessTTL, refreshTTL time.Duration) CookiePolicy {
	p := CookiePolicy{
		Secure:     true,
		SameSite:   http.SameSiteStrictMode,
		Domain:     domain,
		AccessTTL:  accessTTL,
		RefreshTTL: refreshTTL,
	}
	if development {
		p.Secure = false
		p.SameSite = http.SameSiteLaxMode
	}
	return p
}

// SetSession writes both session cookies.
func (p CookiePolicy) SetSession(w http.ResponseWriter, accessToken, refreshToken string) {
	http.SetCookie(w, p.cookie(AccessCookieName, accessToken, p.AccessTTL))
	http.SetCookie(w, p.cookie(RefreshCookieName, refreshToken, p.RefreshTTL))
}

// ClearSession expires both session cookies.
func (p CookiePolicy) ClearSession(w http.ResponseWriter) {
	for _, name := range []string{AccessCookieName, RefreshCookieName} {
		c := p.cookie(name, "", 0)
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
		http.SetCookie(w, c)
	}
}

func (p CookiePolicy) cookie(name, value string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   p.Domain,
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		Secure:   p.Secure,
		SameSite: p.SameSite,
	}
}

// CookieValue returns the value of the named cookie, or "" when absent.
func CookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
