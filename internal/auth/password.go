package auth

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is used when a Hasher is built with a zero cost.
const DefaultBcryptCost = 12

// Hasher hashes and verifies passwords with bcrypt at a fixed cost.
type Hasher struct {
	Cost int

	dummyOnce sync.Once
	dummy     []byte
}

// NewHasher returns a Hasher. A cost outside bcrypt's range falls back to DefaultBcryptCost.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return &Hasher{Cost: cost}
}

// Hash returns the bcrypt encoding of plaintext.
func (h *Hasher) Hash(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.Cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", NewValidationError("password", "must be at most 72 bytes")
	}
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether plaintext matches storedHash. A mismatch is (false, nil).
// Any other failure means the stored hash is corrupt and is returned as an error.
func (h *Hasher) Verify(plaintext, storedHash string) (bool, error) {
	return VerifyPassword(plaintext, storedHash)
}

// VerifyPassword reports whether plaintext matches the bcrypt storedHash.
func VerifyPassword(plaintext, storedHash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(plaintext))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("stored password hash is invalid: %w", err)
	}
}

// BurnVerify performs a throwaway comparison at the hasher's cost. Call it when
// the account lookup failed so response time does not reveal whether the email exists.
func (h *Hasher) BurnVerify(plaintext string) {
	h.dummyOnce.Do(func() {
		h.dummy, _ = bcrypt.GenerateFromPassword([]byte("unused-account-placeholder"), h.Cost)
	})
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(plaintext))
}
