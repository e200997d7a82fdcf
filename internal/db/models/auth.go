package models

import (
	"time"

	"github.com/uptrace/bun"
)

// AuthProvider records how an account was first created.
type AuthProvider string

const (
	AuthProviderLocal  AuthProvider = "local"
	AuthProviderGoogle AuthProvider = "google"
)

// User is a human principal. Local accounts carry a bcrypt PasswordHash;
// federated accounts carry the provider subject in GoogleID.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID                string       `bun:"id,pk,type:uuid"`
	Username          string       `bun:"username,notnull,unique"`
	Email             string       `bun:"email,notnull,unique"`
	PasswordHash      *string      `bun:"password_hash"`
	GoogleID          *string      `bun:"google_id,unique"`
	AuthProvider      AuthProvider `bun:"auth_provider,notnull,default:'local'"`
	EmailVerified     bool         `bun:"email_verified,notnull,default:false"`
	Name              *string      `bun:"name"`
	ProfilePictureURL *string      `bun:"profile_picture_url"`
	CreatedAt         time.Time    `bun:"created_at,notnull"`
	UpdatedAt         time.Time    `bun:"updated_at,notnull"`
	LastLoginAt       *time.Time   `bun:"last_login_at"`
}

// RevocationReason explains why a refresh token stopped being live.
type RevocationReason string

const (
	// RevokedRotated marks a token superseded by its successor. Presenting it again is reuse.
	RevokedRotated       RevocationReason = "rotated"
	RevokedLogoutAll     RevocationReason = "logout_all"
	RevokedReuseDetected RevocationReason = "reuse_detected"
	RevokedPasswordReset RevocationReason = "password_reset"
	// RevokedAccountLinked ends sessions of an unverified account claimed through a provider.
	RevokedAccountLinked RevocationReason = "account_linked"
)

// RefreshToken is a persisted refresh-token record. Only the SHA-256 digest of the raw value is stored.
type RefreshToken struct {
	bun.BaseModel `bun:"table:refresh_tokens,alias:rt"`

	ID            string            `bun:"id,pk,type:uuid"`
	UserID        string            `bun:"user_id,notnull,type:uuid"`
	TokenHash     string            `bun:"token_hash,notnull,unique"`
	DeviceInfo    *string           `bun:"device_info"`
	IPAddress     *string           `bun:"ip_address"`
	ExpiresAt     time.Time         `bun:"expires_at,notnull"`
	CreatedAt     time.Time         `bun:"created_at,notnull"`
	LastUsedAt    time.Time         `bun:"last_used_at,notnull"`
	Revoked       bool              `bun:"revoked,notnull,default:false"`
	RevokedAt     *time.Time        `bun:"revoked_at"`
	RevokedReason *RevocationReason `bun:"revoked_reason"`
	ReplacedBy    *string           `bun:"replaced_by,type:uuid"`
}

// IsLive reports whether the record can still be redeemed at instant now.
func (t *RefreshToken) IsLive(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}

// TokenPurpose scopes a one-time token to a single flow.
type TokenPurpose string

const (
	PurposeEmailVerification TokenPurpose = "email_verification"
	PurposePasswordReset     TokenPurpose = "password_reset"
)

// OneTimeToken backs email verification and password reset links.
type OneTimeToken struct {
	bun.BaseModel `bun:"table:one_time_tokens,alias:ott"`

	ID        string       `bun:"id,pk,type:uuid"`
	UserID    string       `bun:"user_id,notnull,type:uuid"`
	Purpose   TokenPurpose `bun:"purpose,notnull"`
	TokenHash string       `bun:"token_hash,notnull,unique"`
	ExpiresAt time.Time    `bun:"expires_at,notnull"`
	UsedAt    *time.Time   `bun:"used_at"`
	CreatedAt time.Time    `bun:"created_at,notnull"`
}
