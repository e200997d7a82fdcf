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

// BunOneTimeTokenRepository implements OneTimeTokenRepository using Bun ORM
type BunOneTimeTokenRepository struct {
	db *bun.DB
}

// NewBunOneTimeTokenRepository creates a new Bun-based one-time token repository
func NewBunOneTimeTokenRepository(db *bun.DB) *BunOneTimeTokenRepository {
	return &BunOneTimeTokenRepository{db: db}
}

// Create stores token after retiring the user's outstanding tokens of the same purpose.
func (r *BunOneTimeTokenRepository) Create(ctx context.Context, token *models.OneTimeToken) error {
	now := time.Now().UTC()
	if token.ID == "" {
		token.ID = bunx.NewUUIDv7()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = now
	}

	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewUpdate().
			Model((*models.OneTimeToken)(nil)).
			Set("used_at = ?", now).
			Where("user_id = ?", token.UserID).
			Where("purpose = ?", token.Purpose).
			Where("used_at IS NULL").
			Exec(ctx); err != nil {
			return storeErr("retire one-time tokens", err)
		}
		if _, err := tx.NewInsert().Model(token).Exec(ctx); err != nil {
			if isForeignKeyViolation(err) {
				return auth.ErrUserNotFound
			}
			return storeErr("create one-time token", err)
		}
		return nil
	})
}

// Consume marks the token used. Unknown, used, expired or wrong-purpose tokens
// all return auth.ErrOneTimeTokenInvalid.
func (r *BunOneTimeTokenRepository) Consume(ctx context.Context, tokenHash string, purpose models.TokenPurpose) (*models.OneTimeToken, error) {
	var consumed *models.OneTimeToken
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		now := time.Now().UTC()
		res, err := tx.NewUpdate().
			Model((*models.OneTimeToken)(nil)).
			Set("used_at = ?", now).
			Where("token_hash = ?", tokenHash).
			Where("purpose = ?", purpose).
			Where("used_at IS NULL").
			Where("expires_at > ?", now).
			Exec(ctx)
		if err != nil {
			return storeErr("consume one-time token", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return storeErr("get rows affected", err)
		}
		if rows == 0 {
			return auth.ErrOneTimeTokenInvalid
		}

		token := new(models.OneTimeToken)
		if err := tx.NewSelect().Model(token).Where("token_hash = ?", tokenHash).Scan(ctx); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return auth.ErrOneTimeTokenInvalid
			}
			return storeErr("load one-time token", err)
		}
		consumed = token
		return nil
	})
	if err != nil {
		return nil, err
	}
	return consumed, nil
}

// CleanupExpired deletes expired and used tokens.
func (r *BunOneTimeTokenRepository) CleanupExpired(ctx context.Context) (int, error) {
	res, err := r.db.NewDelete().
		Model((*models.OneTimeToken)(nil)).
		WhereOr("expires_at <= ?", time.Now().UTC()).
		WhereOr("used_at IS NOT NULL").
		Exec(ctx)
	if err != nil {
		return 0, storeErr("cleanup one-time tokens", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr("get rows affected", err)
	}
	return int(n), nil
}

var _ OneTimeTokenRepository = (*BunOneTimeTokenRepository)(nil)
