package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/matchatime/sessiond/internal/db/bunx"
	"github.com/matchatime/sessiond/internal/db/models"
	"github.com/matchatime/sessiond/internal/migrations"
)

// setupTestDB opens a private in-memory SQLite database with all migrations applied.
func setupTestDB(t *testing.T) *bun.DB {
	t.Helper()

	db, err := bunx.NewDB("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = bunx.Close(db) })

	_, err = migrations.Apply(context.Background(), db)
	require.NoError(t, err)
	return db
}

func createTestUser(t *testing.T, db *bun.DB, email string, verified bool) *models.User {
	t.Helper()
	hash := "$2a$04$placeholderplaceholderplaceholderplaceholderplacehold"
	user := &models.User{
		Username:      "user_" + uuid.NewString()[:8],
		Email:         email,
		PasswordHash:  &hash,
		AuthProvider:  models.AuthProviderLocal,
		EmailVerified: verified,
	}
	require.NoError(t, NewBunUserRepository(db).Create(context.Background(), user))
	return user
}

// expireToken moves a token's expiry into the past.
func expireToken(t *testing.T, db *bun.DB, id string) {
	t.Helper()
	_, err := db.NewUpdate().
		Model((*models.RefreshToken)(nil)).
		Set("expires_at = ?", time.Now().UTC().Add(-time.Minute)).
		Where("id = ?", id).
		Exec(context.Background())
	require.NoError(t, err)
}
