package iam

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/matchatime/sessiond/internal/auth"
)

// AuthRequest wraps HTTP request data for the authenticator.
type AuthRequest struct {
	// Headers contains HTTP headers (including Authorization, Cookie)
	Headers http.Header

	// Cookies contains parsed cookies
	Cookies []*http.Cookie
}

// NewAuthRequest captures the parts of r the extractors read.
func NewAuthRequest(r *http.Request) AuthRequest {
	return AuthRequest{Headers: r.Header, Cookies: r.Cookies()}
}

// TokenExtractor pulls a raw access token out of a request. It is a pure
// function: ok is false when this source carries no token.
type TokenExtractor func(req AuthRequest) (token string, source auth.TokenSource, ok bool)

// CookieExtractor reads the named cookie.
func CookieExtractor(name string) TokenExtractor {
	return func(req AuthRequest) (string, auth.TokenSource, bool) {
		for _, c := range req.Cookies {
			if c.Name == name && c.Value != "" {
				return c.Value, auth.TokenSourceCookie, true
			}
		}
		return "", "", false
	}
}

// BearerExtractor reads "Authorization: Bearer <token>".
func BearerExtractor() TokenExtractor {
	return func(req AuthRequest) (string, auth.TokenSource, bool) {
		header := req.Headers.Get("Authorization")
		scheme, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") {
			return "", "", false
		}
		token = strings.TrimSpace(token)
		if token == "" {
			return "", "", false
		}
		return token, auth.TokenSourceBearer, true
	}
}

// DefaultExtractors tries the access-token cookie first, then the bearer header.
func DefaultExtractors() []TokenExtractor {
	return []TokenExtractor{
		CookieExtractor(auth.AccessCookieName),
		BearerExtractor(),
	}
}

// RequestAuthenticator resolves a request to a principal from its access token
// alone. The first extractor that yields a token decides the outcome.
type RequestAuthenticator struct {
	codec      *auth.TokenCodec
	extractors []TokenExtractor
}

// NewRequestAuthenticator builds an authenticator. With no extractors it uses DefaultExtractors.
func NewRequestAuthenticator(codec *auth.TokenCodec, extractors ...TokenExtractor) *RequestAuthenticator {
	if len(extractors) == 0 {
		extractors = DefaultExtractors()
	}
	return &RequestAuthenticator{codec: codec, extractors: extractors}
}

// Authenticate returns the principal or one of auth.ErrNoCredentials,
// auth.ErrTokenExpired, auth.ErrTokenMalformed. Signature failures are reported
// as malformed so a forged token looks like any other bad token.
func (a *RequestAuthenticator) Authenticate(_ context.Context, req AuthRequest) (*auth.Principal, error) {
	for _, extract := range a.extractors {
		token, source, ok := extract(req)
		if !ok {
			continue
		}
		claims, err := a.codec.Verify(token)
		if err != nil {
			if errors.Is(err, auth.ErrTokenExpired) {
				return nil, auth.ErrTokenExpired
			}
			return nil, auth.ErrTokenMalformed
		}
		return &auth.Principal{UserID: claims.Subject, Email: claims.Email, Source: source}, nil
	}
	return nil, auth.ErrNoCredentials
}
