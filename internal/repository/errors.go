package repository

import (
	"errors"
	"fmt"
	"strings"

	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/matchatime/sessiond/internal/auth"
)

// storeErr wraps a driver error so callers can classify it as ErrStoreUnavailable.
func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, auth.ErrStoreUnavailable, err)
}

// uniqueViolation reports the column named by a unique constraint failure, if err is one.
// PostgreSQL reports SQLSTATE 23505 with the key in the detail field; SQLite reports
// "UNIQUE constraint failed: table.column".
func uniqueViolation(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		if pgErr.Field('C') != "23505" {
			return "", false
		}
		text := pgErr.Field('n')
		if text == "" {
			text = pgErr.Field('D')
		}
		return columnFromText(text), true
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") {
		return columnFromText(msg), true
	}
	return "", false
}

func columnFromText(text string) string {
	for _, col := range []string{"google_id", "username", "email", "token_hash"} {
		if strings.Contains(text, col) {
			return col
		}
	}
	return ""
}

// ReuseError is returned when a superseded refresh token is presented again.
// Every live token of UserID has been revoked by the time it is returned.
type ReuseError struct {
	UserID  string
	TokenID string
	Revoked int
}

func (e *ReuseError) Error() string {
	return fmt.Sprintf("%s: user %s, %d live tokens revoked", auth.ErrTokenReused, e.UserID, e.Revoked)
}

func (e *ReuseError) Unwrap() error { return auth.ErrTokenReused }
