package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// TokenLength is the number of random bytes in refresh and one-time tokens.
const TokenLength = 32

// GenerateRefreshToken returns a URL-safe random refresh token and its storage digest.
func GenerateRefreshToken() (token, tokenHash string, err error) {
	b, err := randomBytes(TokenLength)
	if err != nil {
		return "", "", fmt.Errorf("generate refresh token: %w", err)
	}
	token = base64.RawURLEncoding.EncodeToString(b)
	return token, HashToken(token), nil
}

// GenerateOneTimeToken returns a hex token for email links and its storage digest.
func GenerateOneTimeToken() (token, tokenHash string, err error) {
	b, err := randomBytes(TokenLength)
	if err != nil {
		return "", "", fmt.Errorf("generate one-time token: %w", err)
	}
	token = hex.EncodeToString(b)
	return token, HashToken(token), nil
}

// HashToken returns the SHA-256 hex digest used to look a token up.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// RandomString returns n random bytes encoded as unpadded base64url.
func RandomString(n int) (string, error) {
	b, err := randomBytes(n)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("read random bytes: %w", err)
	}
	return b, nil
}
