package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/matchatime/sessiond/internal/auth"
	"github.com/matchatime/sessiond/internal/config"
	sessmiddleware "github.com/matchatime/sessiond/internal/middleware"
	"github.com/matchatime/sessiond/internal/services/iam"
	"github.com/matchatime/sessiond/internal/telemetry"
)

// Pinger reports database reachability. *bun.DB implements it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RouterOptions controls the construction of the sessiond HTTP router.
type RouterOptions struct {
	IAMService iam.Service
	Cfg        *config.Config

	// FlowCookie seals federated-login state. Nil disables /auth/google and /auth/callback.
	FlowCookie *auth.FlowStateCookie

	// DB backs /health/ready. Nil reports ready unconditionally.
	DB Pinger

	Logger        *slog.Logger
	ServerMetrics *telemetry.ServerMetrics
	CORSOptions   *cors.Options
	Middleware    []func(http.Handler) http.Handler
	ExtraRoutes   func(chi.Router)
}

// DefaultCORSOptions allows credentialed requests from origins.
func DefaultCORSOptions(origins []string) cors.Options {
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}
}

// NewRouter assembles a chi.Router with shared middleware, CORS policy, and
// the /auth handlers mounted.
func NewRouter(opts RouterOptions) chi.Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Cfg
	if cfg == nil {
		cfg = &config.Config{}
	}

	r := chi.NewRouter()

	// Baseline middleware shared across entrypoints.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(sessmiddleware.RequestLogger(logger, opts.ServerMetrics))
	r.Use(middleware.Recoverer)
	r.Use(sessmiddleware.SecurityHeaders(!cfg.IsDevelopment()))

	corsCfg := DefaultCORSOptions(cfg.CORSOrigins())
	if opts.CORSOptions != nil {
		corsCfg = *opts.CORSOptions
	}
	r.Use(cors.Handler(corsCfg))

	for _, mw := range opts.Middleware {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.Get("/health", healthHandler)
	r.Get("/health/ready", readyHandler(opts.DB))

	if opts.IAMService != nil {
		cookies := auth.NewCookiePolicy(cfg.IsDevelopment(), cfg.Cookie.Domain, cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL)
		flowCookie := opts.FlowCookie
		if !opts.IAMService.FederatedLoginEnabled() {
			flowCookie = nil
		}
		h := NewAuthHandlers(opts.IAMService, cookies, flowCookie, cfg.FrontendURL, logger)
		MountAuthHandlers(r, h, opts.IAMService)
	} else {
		logger.Warn("IAM service not configured; /auth routes are not mounted")
	}

	if opts.ExtraRoutes != nil {
		opts.ExtraRoutes(r)
	}

	return r
}

// MountAuthHandlers registers the /auth routes. authenticator guards the
// routes that need a principal.
func MountAuthHandlers(r chi.Router, h *AuthHandlers, authenticator sessmiddleware.Authenticator) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/refresh", h.Refresh)
		r.Post("/logout", h.Logout)

		r.Get("/google", h.GoogleStart)
		r.Get("/callback", h.GoogleCallback)

		r.Post("/verify-email", h.VerifyEmail)
		r.Post("/resend-verification", h.ResendVerification)
		r.Post("/password-reset/request", h.RequestPasswordReset)
		r.Post("/password-reset/confirm", h.ConfirmPasswordReset)

		r.Group(func(r chi.Router) {
			r.Use(sessmiddleware.RequireAuth(authenticator))
			r.Get("/me", h.Me)
			r.Post("/logout-all", h.LogoutAll)
		})
	})
}

// NewH2CHandler wraps the router with an h2c server to provide HTTP/2 over cleartext.
func NewH2CHandler(opts RouterOptions) http.Handler {
	return h2c.NewHandler(NewRouter(opts), &http2.Server{})
}

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func readyHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db == nil {
			writeJSON(w, http.StatusOK, healthResponse{Status: "ready"})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			slog.WarnContext(r.Context(), "readiness check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Error: "database unreachable"})
			return
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: "ready"})
	}
}
