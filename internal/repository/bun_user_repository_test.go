package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchatime/sessiond/internal/auth"
	"github.com/matchatime/sessiond/internal/db/models"
)

func TestBunUserRepository_CreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBunUserRepository(db)
	ctx := context.Background()

	user := createTestUser(t, db, "ada@example.com", false)
	assert.NotEmpty(t, user.ID)
	assert.False(t, user.CreatedAt.IsZero())

	byID, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", byID.Email)
	assert.Equal(t, models.AuthProviderLocal, byID.AuthProvider)

	byEmail, err := repo.GetByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byEmail.ID)

	byName, err := repo.GetByUsername(ctx, user.Username)
	require.NoError(t, err)
	assert.Equal(t, user.ID, byName.ID)

	_, err = repo.GetByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, auth.ErrUserNotFound)
}

func TestBunUserRepository_CreateConflicts(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBunUserRepository(db)
	ctx := context.Background()

	existing := createTestUser(t, db, "taken@example.com", true)

	err := repo.Create(ctx, &models.User{Username: "fresh_name", Email: "taken@example.com"})
	assert.ErrorIs(t, err, auth.ErrEmailTaken)

	err = repo.Create(ctx, &models.User{Username: existing.Username, Email: "fresh@example.com"})
	assert.ErrorIs(t, err, auth.ErrUsernameTaken)
}

func TestBunUserRepository_Updates(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBunUserRepository(db)
	ctx := context.Background()
	user := createTestUser(t, db, "grace@example.com", false)

	require.NoError(t, repo.MarkEmailVerified(ctx, user.ID))
	require.NoError(t, repo.SetPasswordHash(ctx, user.ID, "new-hash"))
	loginAt, err := repo.UpdateLastLogin(ctx, user.ID)
	require.NoError(t, err)
	picture := "https://example.com/g.png"
	require.NoError(t, repo.LinkGoogle(ctx, user.ID, "google-123", &picture))

	got, err := repo.GetByGoogleID(ctx, "google-123")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.True(t, got.EmailVerified)
	require.NotNil(t, got.PasswordHash)
	assert.Equal(t, "new-hash", *got.PasswordHash)
	require.NotNil(t, got.LastLoginAt)
	assert.WithinDuration(t, loginAt, *got.LastLoginAt, time.Second)
	require.NotNil(t, got.ProfilePictureURL)
	assert.Equal(t, picture, *got.ProfilePictureURL)

	assert.ErrorIs(t, repo.MarkEmailVerified(ctx, "0192f7c4-0000-7000-8000-000000000000"), auth.ErrUserNotFound)
}

func TestBunUserRepository_DeleteUnverifiedOlderThan(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBunUserRepository(db)
	ctx := context.Background()

	stale := createTestUser(t, db, "stale@example.com", false)
	verified := createTestUser(t, db, "verified@example.com", true)
	fresh := createTestUser(t, db, "fresh@example.com", false)

	_, err := db.NewUpdate().
		Model((*models.User)(nil)).
		Set("created_at = ?", time.Now().UTC().Add(-10*24*time.Hour)).
		Where("id IN (?, ?)", stale.ID, verified.ID).
		Exec(ctx)
	require.NoError(t, err)

	n, err := repo.DeleteUnverifiedOlderThan(ctx, time.Now().UTC().Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = repo.GetByID(ctx, stale.ID)
	assert.ErrorIs(t, err, auth.ErrUserNotFound)
	for _, id := range []string{verified.ID, fresh.ID} {
		_, err := repo.GetByID(ctx, id)
		assert.NoError(t, err)
	}
}

func TestBunUserRepository_LinkGoogleClearsUnverifiedPassword(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBunUserRepository(db)
	ctx := context.Background()

	tests := []struct {
		name         string
		verified     bool
		wantPassword bool
	}{
		{name: "unverified account", verified: false, wantPassword: false},
		{name: "verified account", verified: true, wantPassword: true},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user := createTestUser(t, db, fmt.Sprintf("link%d@example.com", i), tt.verified)
			require.NoError(t, repo.LinkGoogle(ctx, user.ID, fmt.Sprintf("google-link-%d", i), nil))

			got, err := repo.GetByID(ctx, user.ID)
			require.NoError(t, err)
			assert.True(t, got.EmailVerified)
			assert.Equal(t, tt.wantPassword, got.PasswordHash != nil)
		})
	}
}
