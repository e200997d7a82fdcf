package iam

import (
	"context"
	"fmt"

	"github.com/matchatime/sessiond/internal/auth"
	"github.com/matchatime/sessiond/internal/db/models"
	"github.com/matchatime/sessiond/internal/repository"
)

// SessionIssuer is the only component that mints an access token together with
// a refresh record, so no access token exists without a revocable refresh token.
type SessionIssuer struct {
	codec   *auth.TokenCodec
	refresh repository.RefreshTokenStore
}

// NewSessionIssuer creates an issuer backed by codec and refresh.
func NewSessionIssuer(codec *auth.TokenCodec, refresh repository.RefreshTokenStore) *SessionIssuer {
	return &SessionIssuer{codec: codec, refresh: refresh}
}

// IssueSession persists a new refresh record for user and signs an access token.
func (i *SessionIssuer) IssueSession(ctx context.Context, user *models.User, client ClientInfo) (*Session, error) {
	raw, record, err := i.refresh.Issue(ctx, repository.IssueParams{
		UserID:     user.ID,
		DeviceInfo: client.deviceInfo(),
		IPAddress:  client.ipAddress(),
	})
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}

	access, claims, err := i.codec.Issue(user.ID, user.Email)
	if err != nil {
		return nil, err
	}

	return &Session{
		AccessToken:      access,
		AccessExpiresAt:  claims.ExpiresAt,
		RefreshToken:     raw,
		RefreshExpiresAt: record.ExpiresAt,
		User:             user,
	}, nil
}

// Rotate redeems raw through the store's atomic rotation and signs an access
// token for the successor. eligible runs inside the rotation transaction.
func (i *SessionIssuer) Rotate(ctx context.Context, raw string, client ClientInfo, eligible repository.EligibilityFunc) (*Session, error) {
	rotation, err := i.refresh.RedeemAndRotate(ctx, raw, repository.IssueParams{
		DeviceInfo: client.deviceInfo(),
		IPAddress:  client.ipAddress(),
	}, eligible)
	if err != nil {
		return nil, err
	}

	access, claims, err := i.codec.Issue(rotation.User.ID, rotation.User.Email)
	if err != nil {
		return nil, err
	}

	return &Session{
		AccessToken:      access,
		AccessExpiresAt:  claims.ExpiresAt,
		RefreshToken:     rotation.Token,
		RefreshExpiresAt: rotation.Record.ExpiresAt,
		User:             rotation.User,
	}, nil
}
