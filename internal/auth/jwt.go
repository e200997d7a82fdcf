package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the shortest HMAC key the codec accepts.
const MinSecretLength = 32

// AccessClaims is the payload of an access token. It is never persisted.
type AccessClaims struct {
	Subject   string
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type accessTokenClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// TokenCodec issues and verifies HS256 access tokens. The signing key is owned
// by the instance; rotating keys means building a new codec.
type TokenCodec struct {
	secret []byte
	ttl    time.Duration
	keyID  string
	now    func() time.Time
}

// CodecOption customises a TokenCodec.
type CodecOption func(*TokenCodec)

// WithKeyID stamps issued tokens with a kid header and rejects tokens carrying a different one.
func WithKeyID(kid string) CodecOption {
	return func(c *TokenCodec) { c.keyID = kid }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) CodecOption {
	return func(c *TokenCodec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewTokenCodec builds a codec for secret with the given token lifetime.
func NewTokenCodec(secret []byte, ttl time.Duration, opts ...CodecOption) (*TokenCodec, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLength)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("access token ttl must be positive")
	}
	c := &TokenCodec{
		secret: append([]byte(nil), secret...),
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// TTL returns the access token lifetime.
func (c *TokenCodec) TTL() time.Duration { return c.ttl }

// Issue signs a token for subject that expires one TTL from now.
func (c *TokenCodec) Issue(subject, email string) (string, *AccessClaims, error) {
	if subject == "" {
		return "", nil, fmt.Errorf("access token subject is required")
	}
	now := c.now().Truncate(time.Second)
	claims := &AccessClaims{
		Subject:   subject,
		Email:     email,
		IssuedAt:  now,
		ExpiresAt: now.Add(c.ttl),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, accessTokenClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
	})
	if c.keyID != "" {
		token.Header["kid"] = c.keyID
	}

	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign access token: %w", err)
	}
	return signed, claims, nil
}

// Verify checks the signature and expiry of raw. Failures wrap ErrTokenExpired,
// ErrTokenSignature or ErrTokenMalformed.
func (c *TokenCodec) Verify(raw string) (*AccessClaims, error) {
	if raw == "" {
		return nil, ErrNoCredentials
	}

	var parsed accessTokenClaims
	_, err := jwt.ParseWithClaims(raw, &parsed, c.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrTokenSignature
		default:
			return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
		}
	}
	if parsed.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenMalformed)
	}

	claims := &AccessClaims{
		Subject: parsed.Subject,
		Email:   parsed.Email,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time.UTC()
	}
	claims.ExpiresAt = parsed.ExpiresAt.Time.UTC()
	return claims, nil
}

func (c *TokenCodec) keyFunc(token *jwt.Token) (any, error) {
	if c.keyID != "" {
		if kid, _ := token.Header["kid"].(string); kid != c.keyID {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
	}
	return c.secret, nil
}
