package auth

import (
	"errors"
	"fmt"
)

// Credential and token failures. Handlers map these onto HTTP statuses; the
// messages are safe to show to clients.
var (
	ErrInvalidCredential = errors.New("invalid credentials")
	ErrTokenExpired      = errors.New("token expired")
	ErrTokenMalformed    = errors.New("malformed token")
	ErrTokenSignature    = errors.New("token signature invalid")
	ErrNoCredentials     = errors.New("missing credentials")

	ErrRefreshNotFound = errors.New("refresh token not found")
	ErrTokenRevoked    = errors.New("refresh token revoked")
	ErrTokenReused     = errors.New("refresh token reuse detected")
	ErrUserGone        = errors.New("user no longer exists")

	ErrOneTimeTokenInvalid = errors.New("invalid or expired token")
)

// Federated sign-in failures.
var (
	ErrCsrfMismatch       = errors.New("state mismatch")
	ErrFlowStateMissing   = errors.New("sign-in flow expired or missing")
	ErrProviderExchange   = errors.New("identity provider exchange failed")
	ErrBadIdentityToken   = errors.New("identity token rejected")
	ErrIdentityUnverified = errors.New("email not verified")
	ErrDomainNotAllowed   = errors.New("email domain not allowed")
	ErrProviderDisabled   = errors.New("federated sign-in is not configured")
)

// Account failures.
var (
	ErrUserNotFound     = errors.New("user not found")
	ErrEmailTaken       = errors.New("email already registered")
	ErrUsernameTaken    = errors.New("username already taken")
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// UnauthenticatedReason returns the reason code attached to a 401 for err:
// "expired", "malformed" or "missing". A bad signature is reported as malformed.
func UnauthenticatedReason(err error) string {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrNoCredentials):
		return "missing"
	default:
		return "malformed"
	}
}
