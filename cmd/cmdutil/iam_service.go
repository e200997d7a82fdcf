package cmdutil

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/uptrace/bun"

	"github.com/matchatime/sessiond/internal/auth"
	"github.com/matchatime/sessiond/internal/config"
	"github.com/matchatime/sessiond/internal/db/bunx"
	"github.com/matchatime/sessiond/internal/mailer"
	"github.com/matchatime/sessiond/internal/repository"
	"github.com/matchatime/sessiond/internal/services/iam"
	"github.com/matchatime/sessiond/internal/telemetry"
)

// IAMServiceOptions controls how commands construct the IAM service.
type IAMServiceOptions struct {
	Logger *slog.Logger
	// Exchanger enables federated login. CLI maintenance commands leave it nil.
	Exchanger iam.IdentityExchanger
	// Mailer defaults to a synchronous LogMailer.
	Mailer  mailer.Mailer
	Metrics *telemetry.AuthMetrics
}

// IAMServiceBundle bundles the service with its underlying DB connection so callers can
// reuse the connection for other repositories when necessary.
type IAMServiceBundle struct {
	Service       iam.Service
	DB            *bun.DB
	Users         *repository.BunUserRepository
	RefreshTokens *repository.BunRefreshTokenStore
}

// Close releases the underlying database connection.
func (b *IAMServiceBundle) Close() {
	if b == nil || b.DB == nil {
		return
	}
	_ = bunx.Close(b.DB)
}

// NewIAMServiceBundle centralizes IAM service construction for the server and CLI commands.
func NewIAMServiceBundle(ctx context.Context, cfg *config.Config, opts IAMServiceOptions) (*IAMServiceBundle, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := bunx.NewDBWithOptions(ctx, cfg.DatabaseURL, bunx.Options{MaxOpenConns: cfg.MaxDBConnections})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	codec, err := auth.NewTokenCodec([]byte(cfg.Auth.JWTSecret), cfg.Auth.AccessTTL)
	if err != nil {
		_ = bunx.Close(db)
		return nil, fmt.Errorf("failed to create token codec: %w", err)
	}

	mail := opts.Mailer
	if mail == nil {
		mail = mailer.LogMailer{Logger: logger}
	}

	users := repository.NewBunUserRepository(db)
	refreshTokens := repository.NewBunRefreshTokenStore(db, cfg.Auth.RefreshTTL)
	svc, err := iam.NewIAMService(iam.IAMServiceDependencies{
		Users:         users,
		RefreshTokens: refreshTokens,
		OneTimeTokens: repository.NewBunOneTimeTokenRepository(db),
		Codec:         codec,
		Hasher:        auth.NewHasher(cfg.Auth.BcryptCost),
		Exchanger:     opts.Exchanger,
		Mailer:        mail,
		Metrics:       opts.Metrics,
		Logger:        logger,
	}, iam.IAMServiceConfig{Config: cfg})
	if err != nil {
		_ = bunx.Close(db)
		return nil, fmt.Errorf("failed to create IAM service: %w", err)
	}

	return &IAMServiceBundle{
		Service:       svc,
		DB:            db,
		Users:         users,
		RefreshTokens: refreshTokens,
	}, nil
}
