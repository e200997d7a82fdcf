package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchatime/sessiond/internal/auth"
	"github.com/matchatime/sessiond/internal/db/models"
)

func newOneTimeToken(userID string, purpose models.TokenPurpose, ttl time.Duration) (string, *models.OneTimeToken) {
	raw, hash, err := auth.GenerateOneTimeToken()
	if err != nil {
		panic(err)
	}
	return raw, &models.OneTimeToken{
		UserID:    userID,
		Purpose:   purpose,
		TokenHash: hash,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}
}

func TestBunOneTimeTokenRepository_ConsumeOnce(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBunOneTimeTokenRepository(db)
	ctx := context.Background()
	user := createTestUser(t, db, "ott@example.com", false)

	raw, token := newOneTimeToken(user.ID, models.PurposeEmailVerification, time.Hour)
	require.NoError(t, repo.Create(ctx, token))

	_, err := repo.Consume(ctx, auth.HashToken(raw), models.PurposePasswordReset)
	assert.ErrorIs(t, err, auth.ErrOneTimeTokenInvalid, "wrong purpose")

	consumed, err := repo.Consume(ctx, auth.HashToken(raw), models.PurposeEmailVerification)
	require.NoError(t, err)
	assert.Equal(t, user.ID, consumed.UserID)
	assert.NotNil(t, consumed.UsedAt)

	_, err = repo.Consume(ctx, auth.HashToken(raw), models.PurposeEmailVerification)
	assert.ErrorIs(t, err, auth.ErrOneTimeTokenInvalid, "already used")
}

func TestBunOneTimeTokenRepository_NewTokenRetiresOld(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBunOneTimeTokenRepository(db)
	ctx := context.Background()
	user := createTestUser(t, db, "retire@example.com", false)

	oldRaw, old := newOneTimeToken(user.ID, models.PurposePasswordReset, time.Hour)
	require.NoError(t, repo.Create(ctx, old))
	newRaw, fresh := newOneTimeToken(user.ID, models.PurposePasswordReset, time.Hour)
	require.NoError(t, repo.Create(ctx, fresh))

	_, err := repo.Consume(ctx, auth.HashToken(oldRaw), models.PurposePasswordReset)
	assert.ErrorIs(t, err, auth.ErrOneTimeTokenInvalid)

	_, err = repo.Consume(ctx, auth.HashToken(newRaw), models.PurposePasswordReset)
	assert.NoError(t, err)
}

func TestBunOneTimeTokenRepository_Expired(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBunOneTimeTokenRepository(db)
	ctx := context.Background()
	user := createTestUser(t, db, "expired@example.com", false)

	raw, token := newOneTimeToken(user.ID, models.PurposeEmailVerification, -time.Minute)
	require.NoError(t, repo.Create(ctx, token))

	_, err := repo.Consume(ctx, auth.HashToken(raw), models.PurposeEmailVerification)
	assert.ErrorIs(t, err, auth.ErrOneTimeTokenInvalid)

	n, err := repo.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = repo.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
