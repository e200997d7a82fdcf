package migrations

import (
	"context"
	"fmt"

	"github.com/matchatime/sessiond/internal/db/models"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(up_20261001000003, down_20261001000003)
}

// up_20261001000003 creates the one_time_tokens table used by email verification and password reset
func up_20261001000003(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [up] creating one_time_tokens table...")

	_, err := db.NewCreateTable().
		Model((*models.OneTimeToken)(nil)).
		IfNotExists().
		ForeignKey(`("user_id") REFERENCES "users" ("id") ON DELETE CASCADE`).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create one_time_tokens table: %w", err)
	}

	_, err = db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_one_time_tokens_user_purpose ON one_time_tokens(user_id, purpose)`)
	if err != nil {
		return fmt.Errorf("failed to create one_time_tokens index: %w", err)
	}

	fmt.Println(" OK")
	return nil
}

// down_20261001000003 drops the one_time_tokens table
func down_20261001000003(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [down] dropping one_time_tokens table...")

	_, err := db.NewDropTable().
		Model((*models.OneTimeToken)(nil)).
		IfExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to drop one_time_tokens table: %w", err)
	}

	fmt.Println(" OK")
	return nil
}
