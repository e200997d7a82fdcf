package repository

import (
	"context"
	"time"

	"github.com/matchatime/sessiond/internal/db/models"
)

// UserRepository exposes persistence operations for user accounts.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByGoogleID(ctx context.Context, googleID string) (*models.User, error)
	// LinkGoogle clears the password of an account whose email was unverified.
	LinkGoogle(ctx context.Context, id, googleID string, pictureURL *string) error
	MarkEmailVerified(ctx context.Context, id string) error
	SetPasswordHash(ctx context.Context, id, passwordHash string) error
	// UpdateLastLogin stamps last_login_at and returns the instant written.
	UpdateLastLogin(ctx context.Context, id string) (time.Time, error)
	Delete(ctx context.Context, id string) error
	// DeleteUnverifiedOlderThan removes local accounts that never verified their email.
	DeleteUnverifiedOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// IssueParams describes a new refresh token record.
type IssueParams struct {
	UserID     string
	DeviceInfo *string
	IPAddress  *string
}

// Rotation is the result of a successful redeem-and-rotate.
type Rotation struct {
	// Token is the raw successor token. It is never retrievable again.
	Token    string
	Record   *models.RefreshToken
	Previous *models.RefreshToken
	User     *models.User
}

// EligibilityFunc is evaluated inside the rotation transaction with the token's
// owner. A non-nil error aborts the rotation and leaves the presented token live.
type EligibilityFunc func(user *models.User) error

// RefreshTokenStore persists refresh tokens by digest and rotates them atomically.
type RefreshTokenStore interface {
	// Issue creates a record and returns the raw token alongside it.
	Issue(ctx context.Context, params IssueParams) (string, *models.RefreshToken, error)
	// RedeemAndRotate consumes raw and issues its successor in one transaction.
	// Errors: auth.ErrRefreshNotFound, auth.ErrTokenExpired, auth.ErrTokenRevoked,
	// auth.ErrUserGone, or a *ReuseError when a superseded token is presented.
	RedeemAndRotate(ctx context.Context, raw string, params IssueParams, eligible EligibilityFunc) (*Rotation, error)
	// RevokeOne deletes the record matching raw. Unknown tokens are not an error.
	RevokeOne(ctx context.Context, raw string) error
	// Revoke marks every live record of userID revoked and returns how many changed.
	Revoke(ctx context.Context, userID string, reason models.RevocationReason) (int, error)
	// CleanupExpired deletes expired records and long-revoked ones.
	CleanupExpired(ctx context.Context) (int, error)
	ListByUser(ctx context.Context, userID string) ([]models.RefreshToken, error)
}

// OneTimeTokenRepository persists email verification and password reset tokens.
type OneTimeTokenRepository interface {
	// Create stores a token and invalidates the user's unused tokens of the same purpose.
	Create(ctx context.Context, token *models.OneTimeToken) error
	// Consume marks the matching unused, unexpired token used and returns it.
	Consume(ctx context.Context, tokenHash string, purpose models.TokenPurpose) (*models.OneTimeToken, error)
	CleanupExpired(ctx context.Context) (int, error)
}
