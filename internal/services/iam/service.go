package iam

import (
	"context"
	"time"

	"github.com/matchatime/sessiond/internal/auth"
	"github.com/matchatime/sessiond/internal/db/models"
)

// Service provides every session and account operation exposed by sessiond.
//
// This service centralizes:
//   - Authentication (request path - stateless, no store access)
//   - Credential login and registration
//   - Refresh token rotation and revocation
//   - Federated sign-in
//   - Email verification and password reset
//   - Maintenance (expired token sweep)
type Service interface {
	// =========================================================================
	// Authentication (Request Path - Performance Critical)
	// =========================================================================

	// AuthenticateRequest resolves the request's access token to a principal.
	//
	// Returns:
	//   - (principal, nil): Authentication successful
	//   - (nil, auth.ErrNoCredentials): No token in any extractor source
	//   - (nil, auth.ErrTokenExpired | auth.ErrTokenMalformed): Token rejected
	AuthenticateRequest(ctx context.Context, req AuthRequest) (*auth.Principal, error)

	// =========================================================================
	// Sessions (Login / Refresh / Logout)
	// =========================================================================

	// Register creates a local account. When email verification is required the
	// result carries no session and a verification email is sent instead.
	Register(ctx context.Context, input RegisterInput, client ClientInfo) (*RegisterResult, error)

	// Login verifies an email and password and issues a session.
	// Unknown email and wrong password both return auth.ErrInvalidCredential.
	Login(ctx context.Context, email, password string, client ClientInfo) (*Session, error)

	// Refresh redeems a refresh token and returns a new pair. The presented token
	// is unusable afterwards; presenting it again revokes every session of the user.
	Refresh(ctx context.Context, refreshToken string, client ClientInfo) (*Session, error)

	// Logout deletes the presented refresh token. Unknown tokens are not an error.
	Logout(ctx context.Context, refreshToken string) error

	// RevokeSessions revokes every live refresh token of userID and returns the count.
	RevokeSessions(ctx context.Context, userID string, reason models.RevocationReason) (int, error)

	// =========================================================================
	// Federated Sign-In
	// =========================================================================

	// FederatedLoginEnabled reports whether an identity provider is configured.
	FederatedLoginEnabled() bool

	// StartFederatedLogin returns the provider redirect URL and the flow state the
	// caller must keep in the encrypted flow cookie. Nothing is written server-side.
	StartFederatedLogin(ctx context.Context) (string, *auth.OidcFlowState, error)

	// CompleteFederatedLogin finishes the flow started by StartFederatedLogin.
	// stored is nil when the flow cookie was missing or unreadable.
	CompleteFederatedLogin(ctx context.Context, code, state string, stored *auth.OidcFlowState, client ClientInfo) (*Session, error)

	// =========================================================================
	// Account Management
	// =========================================================================

	GetUser(ctx context.Context, userID string) (*models.User, error)

	// FindUser looks an account up by email, username or id.
	FindUser(ctx context.Context, ref string) (*models.User, error)

	VerifyEmail(ctx context.Context, token string) error

	// ResendVerification and RequestPasswordReset never report whether the
	// email belongs to an account.
	ResendVerification(ctx context.Context, email string) error
	RequestPasswordReset(ctx context.Context, email string) error

	// ConfirmPasswordReset sets a new password and ends every existing session.
	ConfirmPasswordReset(ctx context.Context, token, newPassword string) error

	// =========================================================================
	// Maintenance (Out-of-Band, Not in Request Path)
	// =========================================================================

	// Cleanup deletes expired refresh tokens, spent one-time tokens and stale
	// unverified accounts. It is idempotent and safe alongside live traffic.
	Cleanup(ctx context.Context) (CleanupReport, error)
}

// ClientInfo describes the device presenting credentials. Both fields are optional.
type ClientInfo struct {
	DeviceInfo string
	IPAddress  string
}

func (c ClientInfo) deviceInfo() *string { return optional(c.DeviceInfo) }
func (c ClientInfo) ipAddress() *string  { return optional(c.IPAddress) }

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Session is a freshly minted access/refresh token pair.
type Session struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	User             *models.User
}

// RegisterInput is the local registration form.
type RegisterInput struct {
	Username string
	Email    string
	Password string
	Name     string
}

// RegisterResult carries the new account and, when verification is not required, its first session.
type RegisterResult struct {
	User                 *models.User
	Session              *Session
	VerificationRequired bool
}

// CleanupReport counts the rows removed by one maintenance sweep.
type CleanupReport struct {
	RefreshTokens   int
	OneTimeTokens   int
	UnverifiedUsers int
}
