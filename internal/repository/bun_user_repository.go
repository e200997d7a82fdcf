package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"github.com/matchatime/sessiond/internal/auth"
	"github.com/matchatime/sessiond/internal/db/bunx"
	"github.com/matchatime/sessiond/internal/db/models"
)

// BunUserRepository implements UserRepository using Bun ORM
type BunUserRepository struct {
	db *bun.DB
}

// NewBunUserRepository creates a new Bun-based user repository
func NewBunUserRepository(db *bun.DB) *BunUserRepository {
	return &BunUserRepository{db: db}
}

// Create inserts a new user. Id and timestamps are filled in when empty.
// A duplicate email or username maps to auth.ErrEmailTaken or auth.ErrUsernameTaken.
func (r *BunUserRepository) Create(ctx context.Context, user *models.User) error {
	now := time.Now().UTC()
	if user.ID == "" {
		user.ID = bunx.NewUUIDv7()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	if user.AuthProvider == "" {
		user.AuthProvider = models.AuthProviderLocal
	}

	_, err := r.db.NewInsert().
		Model(user).
		Exec(ctx)
	if err != nil {
		if col, ok := uniqueViolation(err); ok {
			switch col {
			case "email":
				return auth.ErrEmailTaken
			case "username":
				return auth.ErrUsernameTaken
			}
		}
		return storeErr("create user", err)
	}
	return nil
}

func (r *BunUserRepository) getBy(ctx context.Context, column, value string) (*models.User, error) {
	user := new(models.User)
	err := r.db.NewSelect().
		Model(user).
		Where("? = ?", bun.Ident(column), value).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrUserNotFound
		}
		return nil, storeErr("get user by "+column, err)
	}
	return user, nil
}

// GetByID retrieves a user by their ID
func (r *BunUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.getBy(ctx, "id", id)
}

// GetByEmail retrieves a user by their normalized email
func (r *BunUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getBy(ctx, "email", email)
}

// GetByUsername retrieves a user by username
func (r *BunUserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.getBy(ctx, "username", username)
}

// GetByGoogleID retrieves a user by their Google subject
func (r *BunUserRepository) GetByGoogleID(ctx context.Context, googleID string) (*models.User, error) {
	return r.getBy(ctx, "google_id", googleID)
}

// LinkGoogle attaches a Google subject to an existing account and marks its email verified.
// A password set while the email was unverified is cleared: nobody proved the mailbox
// when it was chosen, so it must not start working once the provider vouches for the email.
func (r *BunUserRepository) LinkGoogle(ctx context.Context, id, googleID string, pictureURL *string) error {
	q := r.db.NewUpdate().
		Model((*models.User)(nil)).
		Set("google_id = ?", googleID).
		Set("password_hash = CASE WHEN email_verified THEN password_hash ELSE NULL END").
		Set("email_verified = ?", true).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id)
	if pictureURL != nil {
		q = q.Set("profile_picture_url = COALESCE(profile_picture_url, ?)", *pictureURL)
	}
	return r.expectOne(ctx, "link google account", q)
}

// MarkEmailVerified flags the user's email as verified
func (r *BunUserRepository) MarkEmailVerified(ctx context.Context, id string) error {
	q := r.db.NewUpdate().
		Model((*models.User)(nil)).
		Set("email_verified = ?", true).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id)
	return r.expectOne(ctx, "mark email verified", q)
}

// SetPasswordHash updates the stored bcrypt hash for a user's local credentials.
func (r *BunUserRepository) SetPasswordHash(ctx context.Context, id string, passwordHash string) error {
	q := r.db.NewUpdate().
		Model((*models.User)(nil)).
		Set("password_hash = ?", passwordHash).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id)
	return r.expectOne(ctx, "set password hash", q)
}

// UpdateLastLogin updates the last_login_at timestamp for a user
func (r *BunUserRepository) UpdateLastLogin(ctx context.Context, id string) (time.Time, error) {
	now := time.Now().UTC()
	_, err := r.db.NewUpdate().
		Model((*models.User)(nil)).
		Set("last_login_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return time.Time{}, storeErr("update last login", err)
	}
	return now, nil
}

// Delete removes a user. Refresh and one-time tokens cascade.
func (r *BunUserRepository) Delete(ctx context.Context, id string) error {
	q := r.db.NewDelete().
		Model((*models.User)(nil)).
		Where("id = ?", id)
	return r.expectOne(ctx, "delete user", q)
}

// DeleteUnverifiedOlderThan removes local, never-verified accounts created before cutoff.
func (r *BunUserRepository) DeleteUnverifiedOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.NewDelete().
		Model((*models.User)(nil)).
		Where("email_verified = ?", false).
		Where("auth_provider = ?", models.AuthProviderLocal).
		Where("created_at < ?", cutoff.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, storeErr("delete unverified users", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr("get rows affected", err)
	}
	return int(n), nil
}

type execer interface {
	Exec(ctx context.Context, dest ...interface{}) (sql.Result, error)
}

func (r *BunUserRepository) expectOne(ctx context.Context, op string, q execer) error {
	res, err := q.Exec(ctx)
	if err != nil {
		return storeErr(op, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return storeErr("get rows affected", err)
	}
	if rowsAffected == 0 {
		return auth.ErrUserNotFound
	}
	return nil
}
var _ UserRepository = (*BunUserRepository)(nil)
