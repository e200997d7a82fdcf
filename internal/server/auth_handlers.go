package server

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/matchatime/sessiond/internal/auth"
	"github.com/matchatime/sessiond/internal/db/models"
	"github.com/matchatime/sessiond/internal/services/iam"
)

// AuthHandlers serves the /auth endpoints.
type AuthHandlers struct {
	iam         iam.Service
	cookies     auth.CookiePolicy
	flowCookie  *auth.FlowStateCookie
	frontendURL string
	logger      *slog.Logger
}

// NewAuthHandlers creates the handler set. flowCookie may be nil when federated login is disabled.
func NewAuthHandlers(svc iam.Service, cookies auth.CookiePolicy, flowCookie *auth.FlowStateCookie, frontendURL string, logger *slog.Logger) *AuthHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandlers{
		iam:         svc,
		cookies:     cookies,
		flowCookie:  flowCookie,
		frontendURL: frontendURL,
		logger:      logger,
	}
}

// userResponse is the public view of an account.
type userResponse struct {
	ID                string     `json:"id"`
	Username          string     `json:"username"`
	Email             string     `json:"email"`
	EmailVerified     bool       `json:"email_verified"`
	Name              *string    `json:"name,omitempty"`
	ProfilePictureURL *string    `json:"profile_picture_url,omitempty"`
	AuthProvider      string     `json:"auth_provider"`
	CreatedAt         time.Time  `json:"created_at"`
	LastLoginAt       *time.Time `json:"last_login_at,omitempty"`
}

func newUserResponse(u *models.User) userResponse {
	return userResponse{
		ID:                u.ID,
		Username:          u.Username,
		Email:             u.Email,
		EmailVerified:     u.EmailVerified,
		Name:              u.Name,
		ProfilePictureURL: u.ProfilePictureURL,
		AuthProvider:      string(u.AuthProvider),
		CreatedAt:         u.CreatedAt,
		LastLoginAt:       u.LastLoginAt,
	}
}

type sessionResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresAt    time.Time    `json:"expires_at"`
	User         userResponse `json:"user"`
}

func newSessionResponse(s *iam.Session) sessionResponse {
	return sessionResponse{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    s.AccessExpiresAt,
		User:         newUserResponse(s.User),
	}
}

type messageResponse struct {
	Message string `json:"message"`
}

// clientInfo describes the caller for the refresh record. RemoteAddr is
// already rewritten by chi's RealIP when a proxy header is present.
func clientInfo(r *http.Request) iam.ClientInfo {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return iam.ClientInfo{DeviceInfo: r.UserAgent(), IPAddress: ip}
}

// =========================================================================
// Credential login
// =========================================================================

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

type registerResponse struct {
	User                 userResponse `json:"user"`
	VerificationRequired bool         `json:"verification_required"`
	AccessToken          string       `json:"access_token,omitempty"`
	RefreshToken         string       `json:"refresh_token,omitempty"`
}

// Register handles POST /auth/register.
func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.iam.Register(r.Context(), iam.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	}, clientInfo(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := registerResponse{
		User:                 newUserResponse(result.User),
		VerificationRequired: result.VerificationRequired,
	}
	if result.Session != nil {
		h.cookies.SetSession(w, result.Session.AccessToken, result.Session.RefreshToken)
		resp.AccessToken = result.Session.AccessToken
		resp.RefreshToken = result.Session.RefreshToken
	}
	writeJSON(w, http.StatusCreated, resp)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login handles POST /auth/login.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	session, err := h.iam.Login(r.Context(), req.Email, req.Password, clientInfo(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.cookies.SetSession(w, session.AccessToken, session.RefreshToken)
	writeJSON(w, http.StatusOK, newSessionResponse(session))
}

// =========================================================================
// Session lifecycle
// =========================================================================

// Refresh handles POST /auth/refresh. The refresh token comes from the cookie only.
// Any failure clears both cookies so the client re-authenticates.
func (h *AuthHandlers) Refresh(w http.ResponseWriter, r *http.Request) {
	raw := auth.CookieValue(r, auth.RefreshCookieName)
	if raw == "" {
		h.cookies.ClearSession(w)
		writeError(w, r, auth.ErrNoCredentials)
		return
	}

	session, err := h.iam.Refresh(r.Context(), raw, clientInfo(r))
	if err != nil {
		h.cookies.ClearSession(w)
		writeError(w, r, err)
		return
	}

	h.cookies.SetSession(w, session.AccessToken, session.RefreshToken)
	writeJSON(w, http.StatusOK, newSessionResponse(session))
}

// Logout handles POST /auth/logout. Cookies are cleared even when revocation fails.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	if raw := auth.CookieValue(r, auth.RefreshCookieName); raw != "" {
		if err := h.iam.Logout(r.Context(), raw); err != nil {
			h.logger.WarnContext(r.Context(), "logout: refresh token not revoked", "error", err)
		}
	}
	h.cookies.ClearSession(w)
	writeJSON(w, http.StatusOK, messageResponse{Message: "logged out"})
}

type logoutAllResponse struct {
	Revoked int `json:"revoked"`
}

// LogoutAll handles POST /auth/logout-all. Requires RequireAuth.
func (h *AuthHandlers) LogoutAll(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, auth.ErrNoCredentials)
		return
	}

	n, err := h.iam.RevokeSessions(r.Context(), principal.UserID, models.RevokedLogoutAll)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.cookies.ClearSession(w)
	writeJSON(w, http.StatusOK, logoutAllResponse{Revoked: n})
}

// Me handles GET /auth/me. Requires RequireAuth.
func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, auth.ErrNoCredentials)
		return
	}

	user, err := h.iam.GetUser(r.Context(), principal.UserID)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			// The token outlived its account.
			writeError(w, r, auth.ErrUserGone)
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserResponse(user))
}

// =========================================================================
// Federated sign-in
// =========================================================================

// GoogleStart handles GET /auth/google.
func (h *AuthHandlers) GoogleStart(w http.ResponseWriter, r *http.Request) {
	if h.flowCookie == nil {
		writeError(w, r, auth.ErrProviderDisabled)
		return
	}

	redirect, state, err := h.iam.StartFederatedLogin(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.flowCookie.Save(w, state); err != nil {
		writeError(w, r, err)
		return
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

// GoogleCallback handles GET /auth/callback. The response is a page that
// closes the popup and posts the outcome to the frontend origin.
func (h *AuthHandlers) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	if h.flowCookie == nil {
		writeError(w, r, auth.ErrProviderDisabled)
		return
	}

	stored, err := h.flowCookie.Load(r)
	if err != nil {
		h.logger.InfoContext(r.Context(), "oidc callback without usable flow cookie", "error", err)
		stored = nil
	}
	// The flow is single-use whatever the outcome.
	h.flowCookie.Clear(w)

	q := r.URL.Query()
	if providerErr := q.Get("error"); providerErr != "" {
		h.logger.InfoContext(r.Context(), "identity provider returned an error", "provider_error", providerErr)
		h.callbackFailed(w, r, auth.ErrProviderExchange)
		return
	}

	session, err := h.iam.CompleteFederatedLogin(r.Context(), q.Get("code"), q.Get("state"), stored, clientInfo(r))
	if err != nil {
		h.callbackFailed(w, r, err)
		return
	}

	h.cookies.SetSession(w, session.AccessToken, session.RefreshToken)
	writePopup(w, http.StatusOK, popupData{
		Title:  "Authentication Successful",
		Type:   popupSuccess,
		Origin: h.frontendURL,
	})
}

func (h *AuthHandlers) callbackFailed(w http.ResponseWriter, r *http.Request, err error) {
	status, message := statusFor(err)
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, "federated login failed", "status", status, "error", err)

	writePopup(w, status, popupData{
		Title:   "Authentication Failed",
		Type:    popupError,
		Message: message,
		Origin:  h.frontendURL,
	})
}

// =========================================================================
// Email verification and password reset
// =========================================================================

type tokenRequest struct {
	Token string `json:"token"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type passwordResetConfirmRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// VerifyEmail handles POST /auth/verify-email.
func (h *AuthHandlers) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.iam.VerifyEmail(r.Context(), req.Token); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "email verified"})
}

// ResendVerification handles POST /auth/resend-verification. Always 202.
func (h *AuthHandlers) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.iam.ResendVerification(r.Context(), req.Email); err != nil {
		h.logger.ErrorContext(r.Context(), "resend verification failed", "error", err)
	}
	writeJSON(w, http.StatusAccepted, messageResponse{Message: "if the account exists, a verification email has been sent"})
}

// RequestPasswordReset handles POST /auth/password-reset/request. Always 202.
func (h *AuthHandlers) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.iam.RequestPasswordReset(r.Context(), req.Email); err != nil {
		h.logger.ErrorContext(r.Context(), "password reset request failed", "error", err)
	}
	writeJSON(w, http.StatusAccepted, messageResponse{Message: "if the account exists, a reset email has been sent"})
}

// ConfirmPasswordReset handles POST /auth/password-reset/confirm.
func (h *AuthHandlers) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req passwordResetConfirmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.iam.ConfirmPasswordReset(r.Context(), req.Token, req.Password); err != nil {
		writeError(w, r, err)
		return
	}
	h.cookies.ClearSession(w)
	writeJSON(w, http.StatusOK, messageResponse{Message: "password updated"})
}
