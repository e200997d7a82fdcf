package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/matchatime/sessiond/internal/auth"
	"github.com/matchatime/sessiond/internal/db/bunx"
	"github.com/matchatime/sessiond/internal/db/models"
)

// BunRefreshTokenStore implements RefreshTokenStore using Bun ORM.
// Every writer goes through a single statement or a transaction; there is no
// application-level locking.
type BunRefreshTokenStore struct {
	db  *bun.DB
	ttl time.Duration
}

// NewBunRefreshTokenStore creates a store whose tokens live for ttl.
func NewBunRefreshTokenStore(db *bun.DB, ttl time.Duration) *BunRefreshTokenStore {
	return &BunRefreshTokenStore{db: db, ttl: ttl}
}

// TTL returns the refresh token lifetime.
func (s *BunRefreshTokenStore) TTL() time.Duration { return s.ttl }

// Issue generates a token for params.UserID and persists its digest.
func (s *BunRefreshTokenStore) Issue(ctx context.Context, params IssueParams) (string, *models.RefreshToken, error) {
	return s.insert(ctx, s.db, params, time.Now().UTC())
}

func (s *BunRefreshTokenStore) insert(ctx context.Context, db bun.IDB, params IssueParams, now time.Time) (string, *models.RefreshToken, error) {
	raw, hash, err := auth.GenerateRefreshToken()
	if err != nil {
		return "", nil, err
	}
	record := &models.RefreshToken{
		ID:         bunx.NewUUIDv7(),
		UserID:     params.UserID,
		TokenHash:  hash,
		DeviceInfo: params.DeviceInfo,
		IPAddress:  params.IPAddress,
		ExpiresAt:  now.Add(s.ttl),
		CreatedAt:  now,
		LastUsedAt: now,
	}
	if _, err := db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isForeignKeyViolation(err) {
			return "", nil, auth.ErrUserGone
		}
		return "", nil, storeErr("issue refresh token", err)
	}
	return raw, record, nil
}

// RedeemAndRotate consumes raw and creates its successor atomically.
//
// The presented record is revoked with a conditional UPDATE whose row count
// decides the winner, so concurrent redemptions of one token cannot both
// succeed. When nothing matched, the record is classified: a token already
// superseded by rotation is reuse and revokes the whole family of the user.
func (s *BunRefreshTokenStore) RedeemAndRotate(ctx context.Context, raw string, params IssueParams, eligible EligibilityFunc) (*Rotation, error) {
	if raw == "" {
		return nil, auth.ErrRefreshNotFound
	}
	hash := auth.HashToken(raw)

	var (
		rotation *Rotation
		outcome  error
	)
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		now := time.Now().UTC()

		res, err := tx.NewUpdate().
			Model((*models.RefreshToken)(nil)).
			Set("revoked = ?", true).
			Set("revoked_reason = ?", models.RevokedRotated).
			Set("revoked_at = ?", now).
			Set("last_used_at = ?", now).
			Where("token_hash = ?", hash).
			Where("revoked = ?", false).
			Where("expires_at > ?", now).
			Exec(ctx)
		if err != nil {
			return storeErr("revoke presented refresh token", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return storeErr("get rows affected", err)
		}
		if rows == 0 {
			// Classification writes (reuse revocation, expired sweep) must commit.
			outcome, err = s.classify(ctx, tx, hash, now)
			return err
		}

		previous := new(models.RefreshToken)
		if err := tx.NewSelect().Model(previous).Where("token_hash = ?", hash).Scan(ctx); err != nil {
			return storeErr("load presented refresh token", err)
		}

		user := new(models.User)
		if err := tx.NewSelect().Model(user).Where("id = ?", previous.UserID).Scan(ctx); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return auth.ErrUserGone
			}
			return storeErr("load refresh token owner", err)
		}
		if eligible != nil {
			if err := eligible(user); err != nil {
				return err
			}
		}

		next := IssueParams{UserID: previous.UserID, DeviceInfo: params.DeviceInfo, IPAddress: params.IPAddress}
		if next.DeviceInfo == nil {
			next.DeviceInfo = previous.DeviceInfo
		}
		if next.IPAddress == nil {
			next.IPAddress = previous.IPAddress
		}
		token, record, err := s.insert(ctx, tx, next, now)
		if err != nil {
			return err
		}

		if _, err := tx.NewUpdate().
			Model((*models.RefreshToken)(nil)).
			Set("replaced_by = ?", record.ID).
			Where("id = ?", previous.ID).
			Exec(ctx); err != nil {
			return storeErr("link successor refresh token", err)
		}

		reason := models.RevokedRotated
		previous.Revoked = true
		previous.RevokedAt = &now
		previous.RevokedReason = &reason
		previous.ReplacedBy = &record.ID

		rotation = &Rotation{Token: token, Record: record, Previous: previous, User: user}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if outcome != nil {
		return nil, outcome
	}
	return rotation, nil
}

// classify explains why the conditional update matched nothing. The returned
// outcome is the caller-facing error; the second value aborts the transaction.
func (s *BunRefreshTokenStore) classify(ctx context.Context, tx bun.Tx, hash string, now time.Time) (outcome error, err error) {
	record := new(models.RefreshToken)
	q := tx.NewSelect().Model(record).Where("token_hash = ?", hash)
	if bunx.IsPostgreSQL(tx) {
		q = q.For("UPDATE")
	}
	if err = q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.ErrRefreshNotFound, nil
		}
		return nil, storeErr("classify refresh token", err)
	}

	switch {
	case record.Revoked && record.RevokedReason != nil && *record.RevokedReason == models.RevokedRotated:
		n, err := revokeLive(ctx, tx, record.UserID, models.RevokedReuseDetected, now)
		if err != nil {
			return nil, err
		}
		return &ReuseError{UserID: record.UserID, TokenID: record.ID, Revoked: n}, nil
	case record.Revoked:
		return auth.ErrTokenRevoked, nil
	case !now.Before(record.ExpiresAt):
		if _, err := tx.NewDelete().
			Model((*models.RefreshToken)(nil)).
			Where("id = ?", record.ID).
			Exec(ctx); err != nil {
			return nil, storeErr("delete expired refresh token", err)
		}
		return auth.ErrTokenExpired, nil
	default:
		// Live again after the update missed it: another writer changed it in between.
		return auth.ErrTokenRevoked, nil
	}
}

// RevokeOne deletes the record for raw. Absent tokens are ignored.
func (s *BunRefreshTokenStore) RevokeOne(ctx context.Context, raw string) error {
	if raw == "" {
		return nil
	}
	_, err := s.db.NewDelete().
		Model((*models.RefreshToken)(nil)).
		Where("token_hash = ?", auth.HashToken(raw)).
		Exec(ctx)
	if err != nil {
		return storeErr("revoke refresh token", err)
	}
	return nil
}

// Revoke marks every live token of userID revoked with reason.
func (s *BunRefreshTokenStore) Revoke(ctx context.Context, userID string, reason models.RevocationReason) (int, error) {
	return revokeLive(ctx, s.db, userID, reason, time.Now().UTC())
}

func revokeLive(ctx context.Context, db bun.IDB, userID string, reason models.RevocationReason, now time.Time) (int, error) {
	res, err := db.NewUpdate().
		Model((*models.RefreshToken)(nil)).
		Set("revoked = ?", true).
		Set("revoked_reason = ?", reason).
		Set("revoked_at = ?", now).
		Where("user_id = ?", userID).
		Where("revoked = ?", false).
		Exec(ctx)
	if err != nil {
		return 0, storeErr("revoke user refresh tokens", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr("get rows affected", err)
	}
	return int(n), nil
}

// CleanupExpired deletes tokens past expiry and tokens revoked more than one TTL ago.
// Each call is a single DELETE, so it runs alongside normal traffic under row locks only.
func (s *BunRefreshTokenStore) CleanupExpired(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	res, err := s.db.NewDelete().
		Model((*models.RefreshToken)(nil)).
		WhereOr("expires_at <= ?", now).
		WhereOr("revoked = ? AND revoked_at < ?", true, now.Add(-s.ttl)).
		Exec(ctx)
	if err != nil {
		return 0, storeErr("cleanup refresh tokens", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr("get rows affected", err)
	}
	return int(n), nil
}

// ListByUser returns every stored token of userID, newest first.
func (s *BunRefreshTokenStore) ListByUser(ctx context.Context, userID string) ([]models.RefreshToken, error) {
	var tokens []models.RefreshToken
	err := s.db.NewSelect().
		Model(&tokens).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, storeErr("list refresh tokens", err)
	}
	return tokens, nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C') == "23503"
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

var _ RefreshTokenStore = (*BunRefreshTokenStore)(nil)
