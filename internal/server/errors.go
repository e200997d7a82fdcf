package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/matchatime/sessiond/internal/auth"
)

// Client-facing messages. They never reveal which check failed beyond expiry.
const (
	msgInvalidCredentials = "invalid credentials"
	msgInvalidSession     = "invalid or expired session"
	msgSessionExpired     = "session expired"
	msgInvalidLoginState  = "invalid login state"
	msgProviderError      = "identity provider error"
	msgUnverified         = "email address not verified"
	msgDomainNotAllowed   = "email domain not allowed"
	msgInvalidToken       = "invalid or expired token"
	msgNotFound           = "not found"
	msgInternal           = "an internal error occurred"
)

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// statusFor maps a service error to an HTTP status and a generic message.
func statusFor(err error) (int, string) {
	var ve *auth.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Error()

	case errors.Is(err, auth.ErrInvalidCredential):
		return http.StatusUnauthorized, msgInvalidCredentials
	case errors.Is(err, auth.ErrTokenExpired):
		return http.StatusUnauthorized, msgSessionExpired
	case errors.Is(err, auth.ErrTokenMalformed),
		errors.Is(err, auth.ErrTokenSignature),
		errors.Is(err, auth.ErrNoCredentials),
		errors.Is(err, auth.ErrTokenRevoked),
		errors.Is(err, auth.ErrTokenReused),
		errors.Is(err, auth.ErrRefreshNotFound),
		errors.Is(err, auth.ErrUserGone):
		return http.StatusUnauthorized, msgInvalidSession

	case errors.Is(err, auth.ErrCsrfMismatch), errors.Is(err, auth.ErrFlowStateMissing):
		return http.StatusBadRequest, msgInvalidLoginState
	case errors.Is(err, auth.ErrProviderExchange), errors.Is(err, auth.ErrBadIdentityToken):
		return http.StatusBadGateway, msgProviderError
	case errors.Is(err, auth.ErrIdentityUnverified):
		return http.StatusForbidden, msgUnverified
	case errors.Is(err, auth.ErrDomainNotAllowed):
		return http.StatusForbidden, msgDomainNotAllowed
	case errors.Is(err, auth.ErrProviderDisabled):
		return http.StatusNotFound, msgNotFound

	case errors.Is(err, auth.ErrOneTimeTokenInvalid):
		return http.StatusBadRequest, msgInvalidToken
	case errors.Is(err, auth.ErrEmailTaken):
		return http.StatusConflict, auth.ErrEmailTaken.Error()
	case errors.Is(err, auth.ErrUsernameTaken):
		return http.StatusConflict, auth.ErrUsernameTaken.Error()
	case errors.Is(err, auth.ErrUserNotFound):
		return http.StatusNotFound, msgNotFound

	default:
		return http.StatusInternalServerError, msgInternal
	}
}

// writeError maps err and writes the JSON error body. Internal errors are
// logged with full detail; the client only sees the generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError || status == http.StatusBadGateway {
		slog.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}

	body := errorResponse{Error: message}
	var ve *auth.ValidationError
	if errors.As(err, &ve) {
		body.Field = ve.Field
	}
	writeJSON(w, status, body)
}
