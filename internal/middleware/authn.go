package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/matchatime/sessiond/internal/auth"
	"github.com/matchatime/sessiond/internal/services/iam"
)

// Authenticator resolves a request to a principal. iam.Service implements it.
type Authenticator interface {
	AuthenticateRequest(ctx context.Context, req iam.AuthRequest) (*auth.Principal, error)
}

// RequireAuth rejects requests without a valid access token.
//
// Authentication flow:
//   - The access-token cookie is tried first, then "Authorization: Bearer"
//   - The first token found decides the outcome; a bad cookie is not rescued by a header
//   - On success the principal is stored with auth.SetPrincipal
//   - On failure the response is 401 with a reason of "missing", "expired" or "malformed"
//
// No store lookup happens here: a revoked session keeps working until its
// access token expires.
func RequireAuth(authenticator Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := authenticator.AuthenticateRequest(r.Context(), iam.NewAuthRequest(r))
			if err != nil {
				reason := auth.UnauthenticatedReason(err)
				slog.DebugContext(r.Context(), "request not authenticated",
					"method", r.Method, "path", r.URL.Path, "reason", reason)
				writeUnauthorized(w, reason)
				return
			}

			ctx := auth.SetPrincipal(r.Context(), *principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, reason string) {
	message := "authentication required"
	if reason == "expired" {
		message = "session expired"
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("WWW-Authenticate", `Bearer realm="sessiond"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message, "reason": reason})
}
