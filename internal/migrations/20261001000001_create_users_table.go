package migrations

import (
	"context"
	"fmt"

	"github.com/matchatime/sessiond/internal/db/models"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(up_20261001000001, down_20261001000001)
}

// up_20261001000001 creates the users table
func up_20261001000001(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [up] creating users table...")

	_, err := db.NewCreateTable().
		Model((*models.User)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}

	// Unverified-account sweep filters on these columns
	_, err = db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_users_unverified ON users(email_verified, created_at)`)
	if err != nil {
		return fmt.Errorf("failed to create users verification index: %w", err)
	}

	fmt.Println(" OK")
	return nil
}

// down_20261001000001 drops the users table
func down_20261001000001(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [down] dropping users table...")

	_, err := db.NewDropTable().
		Model((*models.User)(nil)).
		IfExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to drop users table: %w", err)
	}

	fmt.Println(" OK")
	return nil
}
