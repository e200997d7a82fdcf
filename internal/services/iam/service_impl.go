package iam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/matchatime/sessiond/internal/auth"
	"github.com/matchatime/sessiond/internal/config"
	"github.com/matchatime/sessiond/internal/db/models"
	"github.com/matchatime/sessiond/internal/mailer"
	"github.com/matchatime/sessiond/internal/repository"
	"github.com/matchatime/sessiond/internal/telemetry"
)

// iamService implements the Service interface.
//
// It coordinates the repositories, the session issuer, the request
// authenticator and the federated flow coordinator. It holds no mutable state
// of its own; every consistency guarantee comes from the store.
type iamService struct {
	// Repositories
	users         repository.UserRepository
	refreshTokens repository.RefreshTokenStore
	oneTimeTokens repository.OneTimeTokenRepository

	issuer        *SessionIssuer
	authenticator *RequestAuthenticator
	flow          *FlowCoordinator // nil when federated login is disabled
	hasher        *auth.Hasher
	mailer        mailer.Mailer
	metrics       *telemetry.AuthMetrics
	logger        *slog.Logger

	requireVerifiedEmail bool
	verificationTTL      time.Duration
	passwordResetTTL     time.Duration
	unverifiedTTL        time.Duration
	frontendURL          string
}

// IAMServiceDependencies contains all dependencies for IAM service construction.
//
// This struct is used for dependency injection, making it easy to:
//   - Test with fakes
//   - Swap implementations (e.g. a stub IdentityExchanger)
type IAMServiceDependencies struct {
	Users         repository.UserRepository
	RefreshTokens repository.RefreshTokenStore
	OneTimeTokens repository.OneTimeTokenRepository
	Codec         *auth.TokenCodec
	Hasher        *auth.Hasher

	// Exchanger is the identity provider client. Nil disables federated login.
	Exchanger IdentityExchanger

	// Mailer defaults to a LogMailer. Wrap real transports in mailer.NewAsync.
	Mailer  mailer.Mailer
	Metrics *telemetry.AuthMetrics
	Logger  *slog.Logger
}

// IAMServiceConfig contains configuration for IAM service construction.
// Separated from dependencies to clearly distinguish config from runtime dependencies.
type IAMServiceConfig struct {
	Config *config.Config
}

// NewIAMService creates a new IAM service with all dependencies.
func NewIAMService(deps IAMServiceDependencies, cfg IAMServiceConfig) (Service, error) {
	if deps.Users == nil || deps.RefreshTokens == nil || deps.OneTimeTokens == nil {
		return nil, errors.New("iam service requires user, refresh token and one-time token repositories")
	}
	if deps.Codec == nil {
		return nil, errors.New("iam service requires a token codec")
	}
	if cfg.Config == nil {
		return nil, errors.New("iam service requires configuration")
	}
	c := cfg.Config

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hasher := deps.Hasher
	if hasher == nil {
		hasher = auth.NewHasher(c.Auth.BcryptCost)
	}
	mail := deps.Mailer
	if mail == nil {
		mail = mailer.LogMailer{Logger: logger}
	}

	svc := &iamService{
		users:                deps.Users,
		refreshTokens:        deps.RefreshTokens,
		oneTimeTokens:        deps.OneTimeTokens,
		issuer:               NewSessionIssuer(deps.Codec, deps.RefreshTokens),
		authenticator:        NewRequestAuthenticator(deps.Codec),
		hasher:               hasher,
		mailer:               mail,
		metrics:              deps.Metrics,
		logger:               logger,
		requireVerifiedEmail: c.Auth.RequireVerifiedEmail,
		verificationTTL:      c.Auth.VerificationTTL,
		passwordResetTTL:     c.Auth.PasswordResetTTL,
		unverifiedTTL:        c.Jobs.UnverifiedAccountTTL,
		frontendURL:          c.FrontendURL,
	}

	if deps.Exchanger != nil {
		flow, err := NewFlowCoordinator(deps.Exchanger, NewUserDirectory(deps.Users, deps.RefreshTokens), FlowCoordinatorOptions{
			FlowTTL:        c.Cookie.FlowTTL,
			AllowedDomains: c.OIDC.AllowedDomains,
			Metrics:        deps.Metrics,
		})
		if err != nil {
			return nil, fmt.Errorf("create flow coordinator: %w", err)
		}
		svc.flow = flow
	}

	return svc, nil
}

// =========================================================================
// Authentication (Request Path - Performance Critical)
// =========================================================================

func (s *iamService) AuthenticateRequest(ctx context.Context, req AuthRequest) (*auth.Principal, error) {
	return s.authenticator.Authenticate(ctx, req)
}

// =========================================================================
// Sessions
// =========================================================================

func (s *iamService) Register(ctx context.Context, input RegisterInput, client ClientInfo) (*RegisterResult, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerName, "iam.Register")
	defer span.End()

	email := auth.NormalizeEmail(input.Email)
	if err := auth.ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := auth.ValidateUsername(input.Username); err != nil {
		return nil, err
	}
	if err := auth.ValidatePassword(input.Password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	user := &models.User{
		Username:      input.Username,
		Email:         email,
		PasswordHash:  &hash,
		AuthProvider:  models.AuthProviderLocal,
		EmailVerified: !s.requireVerifiedEmail,
		Name:          optional(input.Name),
	}
	if err := s.users.Create(ctx, user); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String(telemetry.AttrUserID, user.ID))

	if s.requireVerifiedEmail {
		s.sendOneTimeToken(ctx, user, models.PurposeEmailVerification)
		return &RegisterResult{User: user, VerificationRequired: true}, nil
	}

	session, err := s.issuer.IssueSession(ctx, user, client)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return &RegisterResult{User: user, Session: session}, nil
}

func (s *iamService) Login(ctx context.Context, email, password string, client ClientInfo) (session *Session, err error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerName, "iam.Login",
		attribute.String(telemetry.AttrAuthMethod, "password"),
	)
	defer span.End()
	defer func() {
		result := loginResult(err)
		span.SetAttributes(attribute.String(telemetry.AttrAuthResult, result))
		s.metrics.RecordLogin(ctx, result)
		if result == "error" {
			telemetry.RecordError(span, err)
		}
	}()

	email = auth.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, auth.ErrInvalidCredential
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			s.hasher.BurnVerify(password)
			return nil, auth.ErrInvalidCredential
		}
		return nil, err
	}
	if user.PasswordHash == nil || *user.PasswordHash == "" {
		// Federated-only account.
		s.hasher.BurnVerify(password)
		return nil, auth.ErrInvalidCredential
	}

	ok, err := s.hasher.Verify(password, *user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify credentials for user %s: %w", user.ID, err)
	}
	if !ok {
		return nil, auth.ErrInvalidCredential
	}
	if s.requireVerifiedEmail && !user.EmailVerified {
		return nil, auth.ErrIdentityUnverified
	}

	s.recordLogin(ctx, user)
	span.SetAttributes(attribute.String(telemetry.AttrUserID, user.ID))

	return s.issuer.IssueSession(ctx, user, client)
}

// recordLogin stamps the login time on the row and on user, which is returned in the session.
func (s *iamService) recordLogin(ctx context.Context, user *models.User) {
	at, err := s.users.UpdateLastLogin(ctx, user.ID)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to record last login", "user_id", user.ID, "error", err)
		return
	}
	user.LastLoginAt = &at
}

func (s *iamService) Refresh(ctx context.Context, refreshToken string, client ClientInfo) (session *Session, err error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerName, "iam.Refresh")
	defer span.End()
	defer func() {
		result := refreshResult(err)
		span.SetAttributes(attribute.String(telemetry.AttrAuthResult, result))
		s.metrics.RecordRefresh(ctx, result)
		if result == "error" {
			telemetry.RecordError(span, err)
		}
	}()

	session, err = s.issuer.Rotate(ctx, refreshToken, client, s.refreshEligible)
	if err != nil {
		var reuse *repository.ReuseError
		if errors.As(err, &reuse) {
			telemetry.AddEvent(span, telemetry.EventTokenReuse,
				attribute.String(telemetry.AttrUserID, reuse.UserID),
				attribute.Int("revoked", reuse.Revoked),
			)
			s.onReuse(ctx, reuse)
		}
		return nil, err
	}
	span.SetAttributes(attribute.String(telemetry.AttrUserID, session.User.ID))
	return session, nil
}

// refreshEligible runs inside the rotation transaction.
func (s *iamService) refreshEligible(user *models.User) error {
	if s.requireVerifiedEmail && !user.EmailVerified {
		return auth.ErrIdentityUnverified
	}
	return nil
}

// onReuse reports a replayed refresh token. The store has already revoked
// every live token of the user.
func (s *iamService) onReuse(ctx context.Context, reuse *repository.ReuseError) {
	s.logger.WarnContext(ctx, "refresh token reuse detected; all sessions revoked",
		"event", "refresh_token_reuse",
		"user_id", reuse.UserID,
		"token_id", reuse.TokenID,
		"revoked", reuse.Revoked,
	)
	s.metrics.RecordReuse(ctx)

	user, err := s.users.GetByID(ctx, reuse.UserID)
	if err != nil {
		s.logger.WarnContext(ctx, "could not load user for reuse alert", "user_id", reuse.UserID, "error", err)
		return
	}
	if err := s.mailer.Send(ctx, mailer.SecurityAlertEmail(user.Email)); err != nil {
		s.logger.WarnContext(ctx, "failed to send reuse alert", "user_id", user.ID, "error", err)
	}
}

func (s *iamService) Logout(ctx context.Context, refreshToken string) error {
	return s.refreshTokens.RevokeOne(ctx, refreshToken)
}

func (s *iamService) RevokeSessions(ctx context.Context, userID string, reason models.RevocationReason) (int, error) {
	n, err := s.refreshTokens.Revoke(ctx, userID, reason)
	if err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "revoked refresh tokens", "user_id", userID, "reason", reason, "count", n)
	return n, nil
}

// =========================================================================
// Federated Sign-In
// =========================================================================

func (s *iamService) FederatedLoginEnabled() bool {
	return s.flow != nil
}

func (s *iamService) StartFederatedLogin(_ context.Context) (string, *auth.OidcFlowState, error) {
	if s.flow == nil {
		return "", nil, auth.ErrProviderDisabled
	}
	return s.flow.Start()
}

func (s *iamService) CompleteFederatedLogin(ctx context.Context, code, state string, stored *auth.OidcFlowState, client ClientInfo) (*Session, error) {
	if s.flow == nil {
		return nil, auth.ErrProviderDisabled
	}
	user, err := s.flow.Complete(ctx, code, state, stored)
	if err != nil {
		return nil, err
	}
	s.recordLogin(ctx, user)
	return s.issuer.IssueSession(ctx, user, client)
}

// =========================================================================
// Account Management
// =========================================================================

func (s *iamService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	return s.users.GetByID(ctx, userID)
}

// FindUser tries email, then username, then id. Ids are only queried when the
// input parses as a UUID.
func (s *iamService) FindUser(ctx context.Context, ref string) (*models.User, error) {
	user, err := s.users.GetByEmail(ctx, auth.NormalizeEmail(ref))
	if !errors.Is(err, auth.ErrUserNotFound) {
		return user, err
	}
	user, err = s.users.GetByUsername(ctx, ref)
	if !errors.Is(err, auth.ErrUserNotFound) {
		return user, err
	}
	if _, perr := uuid.Parse(ref); perr != nil {
		return nil, auth.ErrUserNotFound
	}
	return s.users.GetByID(ctx, ref)
}

func (s *iamService) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return auth.ErrOneTimeTokenInvalid
	}
	consumed, err := s.oneTimeTokens.Consume(ctx, auth.HashToken(token), models.PurposeEmailVerification)
	if err != nil {
		return err
	}
	if err := s.users.MarkEmailVerified(ctx, consumed.UserID); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			return auth.ErrOneTimeTokenInvalid
		}
		return err
	}
	return nil
}

func (s *iamService) ResendVerification(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, auth.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			return nil
		}
		return err
	}
	if user.EmailVerified {
		return nil
	}
	s.sendOneTimeToken(ctx, user, models.PurposeEmailVerification)
	return nil
}

func (s *iamService) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, auth.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			return nil
		}
		return err
	}
	s.sendOneTimeToken(ctx, user, models.PurposePasswordReset)
	return nil
}

func (s *iamService) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	if err := auth.ValidatePassword(newPassword); err != nil {
		return err
	}
	if token == "" {
		return auth.ErrOneTimeTokenInvalid
	}
	// Hash first so a rejected password leaves the single-use token intact.
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	consumed, err := s.oneTimeTokens.Consume(ctx, auth.HashToken(token), models.PurposePasswordReset)
	if err != nil {
		return err
	}
	if err := s.users.SetPasswordHash(ctx, consumed.UserID, hash); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			return auth.ErrOneTimeTokenInvalid
		}
		return err
	}
	// The reset link proved control of the mailbox.
	if err := s.users.MarkEmailVerified(ctx, consumed.UserID); err != nil {
		s.logger.WarnContext(ctx, "failed to mark email verified after reset", "user_id", consumed.UserID, "error", err)
	}

	if _, err := s.RevokeSessions(ctx, consumed.UserID, models.RevokedPasswordReset); err != nil {
		return fmt.Errorf("password changed but sessions were not revoked: %w", err)
	}
	return nil
}

// sendOneTimeToken stores a fresh token for purpose and emails it. Failures are
// logged only: the caller's response must not depend on mail delivery.
func (s *iamService) sendOneTimeToken(ctx context.Context, user *models.User, purpose models.TokenPurpose) {
	raw, hash, err := auth.GenerateOneTimeToken()
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to generate one-time token", "purpose", purpose, "error", err)
		return
	}

	ttl := s.verificationTTL
	if purpose == models.PurposePasswordReset {
		ttl = s.passwordResetTTL
	}
	token := &models.OneTimeToken{
		UserID:    user.ID,
		Purpose:   purpose,
		TokenHash: hash,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}
	if err := s.oneTimeTokens.Create(ctx, token); err != nil {
		s.logger.ErrorContext(ctx, "failed to store one-time token", "purpose", purpose, "user_id", user.ID, "error", err)
		return
	}

	msg := mailer.VerificationEmail(user.Email, s.frontendURL, raw)
	if purpose == models.PurposePasswordReset {
		msg = mailer.PasswordResetEmail(user.Email, s.frontendURL, raw)
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.logger.WarnContext(ctx, "failed to send email", "kind", msg.Kind, "user_id", user.ID, "error", err)
	}
}

// =========================================================================
// Maintenance
// =========================================================================

func (s *iamService) Cleanup(ctx context.Context) (CleanupReport, error) {
	var report CleanupReport
	var errs []error

	n, err := s.refreshTokens.CleanupExpired(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	report.RefreshTokens = n
	s.metrics.RecordCleanup(ctx, "refresh_tokens", n)

	n, err = s.oneTimeTokens.CleanupExpired(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	report.OneTimeTokens = n
	s.metrics.RecordCleanup(ctx, "one_time_tokens", n)

	if s.unverifiedTTL > 0 {
		n, err = s.users.DeleteUnverifiedOlderThan(ctx, time.Now().UTC().Add(-s.unverifiedTTL))
		if err != nil {
			errs = append(errs, err)
		}
		report.UnverifiedUsers = n
		s.metrics.RecordCleanup(ctx, "users", n)
	}

	return report, errors.Join(errs...)
}

func loginResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, auth.ErrInvalidCredential):
		return "invalid_credentials"
	case errors.Is(err, auth.ErrIdentityUnverified):
		return "unverified"
	default:
		return "error"
	}
}

func refreshResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, auth.ErrTokenReused):
		return "reused"
	case errors.Is(err, auth.ErrTokenExpired):
		return "expired"
	case errors.Is(err, auth.ErrTokenRevoked):
		return "revoked"
	case errors.Is(err, auth.ErrRefreshNotFound), errors.Is(err, auth.ErrUserGone):
		return "invalid"
	case errors.Is(err, auth.ErrIdentityUnverified):
		return "unverified"
	default:
		return "error"
	}
}

var _ Service = (*iamService)(nil)
