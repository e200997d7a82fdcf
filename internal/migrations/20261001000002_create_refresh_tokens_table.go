package migrations

import (
	"context"
	"fmt"

	"github.com/matchatime/sessiond/internal/db/models"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(up_20261001000002, down_20261001000002)
}

// up_20261001000002 creates the refresh_tokens table
func up_20261001000002(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [up] creating refresh_tokens table...")

	_, err := db.NewCreateTable().
		Model((*models.RefreshToken)(nil)).
		IfNotExists().
		ForeignKey(`("user_id") REFERENCES "users" ("id") ON DELETE CASCADE`).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create refresh_tokens table: %w", err)
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user_id ON refresh_tokens(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_refresh_tokens_expires_at ON refresh_tokens(expires_at)`,
	}
	for _, stmt := range indexes {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create refresh_tokens index: %w", err)
		}
	}

	fmt.Println(" OK")
	return nil
}

// down_20261001000002 drops the refresh_tokens table
func down_20261001000002(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [down] dropping refresh_tokens table...")

	_, err := db.NewDropTable().
		Model((*models.RefreshToken)(nil)).
		IfExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to drop refresh_tokens table: %w", err)
	}

	fmt.Println(" OK")
	return nil
}
