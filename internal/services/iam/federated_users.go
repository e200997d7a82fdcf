package iam

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/matchatime/sessiond/internal/auth"
	"github.com/matchatime/sessiond/internal/db/models"
	"github.com/matchatime/sessiond/internal/repository"
)

// maxUsernameAttempts bounds the numeric suffixes tried on username conflicts.
const maxUsernameAttempts = 50

// UserDirectory resolves federated identities against the users table.
//
// Resolution order: provider subject, then email (linking the subject to the
// existing account), then a new account. Accounts created here are verified
// because the provider asserted the email.
type UserDirectory struct {
	users    repository.UserRepository
	sessions SessionRevoker
}

// SessionRevoker ends every live session of a user.
type SessionRevoker interface {
	Revoke(ctx context.Context, userID string, reason models.RevocationReason) (int, error)
}

// NewUserDirectory creates a resolver over users. sessions may be nil.
func NewUserDirectory(users repository.UserRepository, sessions SessionRevoker) *UserDirectory {
	return &UserDirectory{users: users, sessions: sessions}
}

// ResolveFederated implements FederatedUserResolver.
func (d *UserDirectory) ResolveFederated(ctx context.Context, identity *auth.IdentityClaims) (*models.User, error) {
	if identity.Subject == "" {
		return nil, fmt.Errorf("%w: no subject", auth.ErrBadIdentityToken)
	}

	user, err := d.users.GetByGoogleID(ctx, identity.Subject)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, auth.ErrUserNotFound) {
		return nil, err
	}

	email := auth.NormalizeEmail(identity.Email)
	user, err = d.linkByEmail(ctx, email, identity)
	if err == nil || !errors.Is(err, auth.ErrUserNotFound) {
		return user, err
	}

	user, err = d.create(ctx, email, identity)
	if errors.Is(err, auth.ErrEmailTaken) {
		// Registered concurrently; link instead.
		return d.linkByEmail(ctx, email, identity)
	}
	return user, err
}

func (d *UserDirectory) linkByEmail(ctx context.Context, email string, identity *auth.IdentityClaims) (*models.User, error) {
	user, err := d.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user.GoogleID != nil {
		if *user.GoogleID != identity.Subject {
			return nil, fmt.Errorf("%w: email is linked to another provider account", auth.ErrBadIdentityToken)
		}
		return user, nil
	}

	if err := d.users.LinkGoogle(ctx, user.ID, identity.Subject, optional(identity.Picture)); err != nil {
		return nil, fmt.Errorf("link provider account: %w", err)
	}
	if !user.EmailVerified {
		// Whoever registered the unproven address loses the password and any sessions.
		user.PasswordHash = nil
		if d.sessions != nil {
			if _, err := d.sessions.Revoke(ctx, user.ID, models.RevokedAccountLinked); err != nil {
				return nil, fmt.Errorf("revoke sessions of linked account: %w", err)
			}
		}
	}
	subject := identity.Subject
	user.GoogleID = &subject
	user.EmailVerified = true
	if user.ProfilePictureURL == nil {
		user.ProfilePictureURL = optional(identity.Picture)
	}
	return user, nil
}

func (d *UserDirectory) create(ctx context.Context, email string, identity *auth.IdentityClaims) (*models.User, error) {
	base := identity.Name
	if base == "" {
		base, _, _ = strings.Cut(email, "@")
	}
	base = auth.SanitizeUsername(base)
	subject := identity.Subject

	for attempt := 1; attempt <= maxUsernameAttempts; attempt++ {
		username := base
		if attempt > 1 {
			username = base + strconv.Itoa(attempt)
		}
		user := &models.User{
			Username:          username,
			Email:             email,
			GoogleID:          &subject,
			AuthProvider:      models.AuthProviderGoogle,
			EmailVerified:     true,
			Name:              optional(identity.Name),
			ProfilePictureURL: optional(identity.Picture),
		}
		err := d.users.Create(ctx, user)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, auth.ErrUsernameTaken) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("no free username derived from %q: %w", base, auth.ErrUsernameTaken)
}

var _ FederatedUserResolver = (*UserDirectory)(nil)
