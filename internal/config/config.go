package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable read by Load
// (e.g. SESSIOND_AUTH_JWT_SECRET for auth.jwt_secret).
const EnvPrefix = "SESSIOND"

const (
	minJWTSecretLength    = 32
	minCookieSecretLength = 64
)

// Environment selects the cookie security profile.
type Environment string

const (
	EnvironmentDevelopment Environment = "development"
	EnvironmentProduction  Environment = "production"
)

// Config holds the application configuration
type Config struct {
	// Database connection string (DSN). postgres:// URLs select PostgreSQL, anything else SQLite.
	DatabaseURL string `mapstructure:"database_url"`

	// Server bind address (host:port)
	ServerAddr string `mapstructure:"server_addr"`

	// Maximum database connection pool size (PostgreSQL only)
	MaxDBConnections int `mapstructure:"max_db_connections"`

	// Enable debug logging
	Debug bool `mapstructure:"debug"`

	// Environment is "development" or "production" (default).
	Environment Environment `mapstructure:"environment"`

	// FrontendURL is the browser application origin. Federated login results are posted to it.
	FrontendURL string `mapstructure:"frontend_url"`

	// AllowedOrigins for CORS. Defaults to FrontendURL when empty.
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	Auth          AuthConfig          `mapstructure:"auth"`
	Cookie        CookieConfig        `mapstructure:"cookie"`
	OIDC          OIDCConfig          `mapstructure:"oidc"`
	Jobs          JobsConfig          `mapstructure:"jobs"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// AuthConfig controls token lifetimes and credential hashing.
type AuthConfig struct {
	// JWTSecret signs access tokens (HS256). At least 32 characters.
	JWTSecret string        `mapstructure:"jwt_secret"`
	AccessTTL time.Duration `mapstructure:"access_ttl"`
	// RefreshTTL is the lifetime of a refresh token record.
	RefreshTTL time.Duration `mapstructure:"refresh_ttl"`
	BcryptCost int           `mapstructure:"bcrypt_cost"`
	// RequireVerifiedEmail blocks login and refresh for accounts whose email is unverified.
	RequireVerifiedEmail bool          `mapstructure:"require_verified_email"`
	VerificationTTL      time.Duration `mapstructure:"verification_ttl"`
	PasswordResetTTL     time.Duration `mapstructure:"password_reset_ttl"`
}

// CookieConfig holds the key material and attributes for cookies set by the server.
type CookieConfig struct {
	// Secret is split into a 32-byte HMAC key and a 32-byte AES key. At least 64 characters.
	Secret string `mapstructure:"secret"`
	Domain string `mapstructure:"domain"`
	// FlowTTL bounds the lifetime of the federated-login state cookie.
	FlowTTL time.Duration `mapstructure:"flow_ttl"`
}

// Keys derives the securecookie hash and block keys from Secret.
func (c CookieConfig) Keys() (hashKey, blockKey []byte) {
	secret := []byte(c.Secret)
	return secret[:32], secret[32:64]
}

// OIDCConfig configures the single federated identity provider.
// Federated login is disabled when ClientID is empty.
type OIDCConfig struct {
	Issuer          string        `mapstructure:"issuer"`
	ClientID        string        `mapstructure:"client_id"`
	ClientSecret    string        `mapstructure:"client_secret"`
	RedirectURI     string        `mapstructure:"redirect_uri"`
	Scopes          []string      `mapstructure:"scopes"`
	ExchangeTimeout time.Duration `mapstructure:"exchange_timeout"`
	// AllowedDomains restricts federated logins to these hosted domains (hd claim). Empty allows any.
	AllowedDomains []string `mapstructure:"allowed_domains"`
}

// Enabled reports whether federated login is configured.
func (c OIDCConfig) Enabled() bool {
	return c.ClientID != ""
}

// JobsConfig schedules the background maintenance sweep.
type JobsConfig struct {
	CleanupInterval      time.Duration `mapstructure:"cleanup_interval"`
	CleanupInitialDelay  time.Duration `mapstructure:"cleanup_initial_delay"`
	UnverifiedAccountTTL time.Duration `mapstructure:"unverified_account_ttl"`
}

// ObservabilityConfig configures OpenTelemetry export. An empty endpoint disables telemetry.
type ObservabilityConfig struct {
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	OTLPInsecure   bool   `mapstructure:"otlp_insecure"`
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
}

// IsDevelopment reports whether relaxed (Lax, non-Secure) cookies are in effect.
func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvironmentDevelopment
}

// CORSOrigins returns the configured origins, falling back to the frontend URL.
func (c *Config) CORSOrigins() []string {
	if len(c.AllowedOrigins) > 0 {
		return c.AllowedOrigins
	}
	if c.FrontendURL != "" {
		return []string{c.FrontendURL}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database_url", "file:sessiond.db?cache=shared")
	v.SetDefault("server_addr", "localhost:8080")
	v.SetDefault("max_db_connections", 25)
	v.SetDefault("debug", false)
	v.SetDefault("environment", string(EnvironmentProduction))
	v.SetDefault("frontend_url", "http://localhost:5173")
	v.SetDefault("allowed_origins", []string{})

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.access_ttl", 24*time.Hour)
	v.SetDefault("auth.refresh_ttl", 30*24*time.Hour)
	v.SetDefault("auth.bcrypt_cost", 12)
	v.SetDefault("auth.require_verified_email", true)
	v.SetDefault("auth.verification_ttl", 24*time.Hour)
	v.SetDefault("auth.password_reset_ttl", time.Hour)

	v.SetDefault("cookie.secret", "")
	v.SetDefault("cookie.domain", "")
	v.SetDefault("cookie.flow_ttl", 10*time.Minute)

	v.SetDefault("oidc.issuer", "https://accounts.google.com")
	v.SetDefault("oidc.client_id", "")
	v.SetDefault("oidc.client_secret", "")
	v.SetDefault("oidc.redirect_uri", "")
	v.SetDefault("oidc.scopes", []string{"openid", "email", "profile"})
	v.SetDefault("oidc.exchange_timeout", 10*time.Second)
	v.SetDefault("oidc.allowed_domains", []string{})

	v.SetDefault("jobs.cleanup_interval", 6*time.Hour)
	v.SetDefault("jobs.cleanup_initial_delay", time.Hour)
	v.SetDefault("jobs.unverified_account_ttl", 7*24*time.Hour)

	v.SetDefault("observability.otlp_endpoint", "")
	v.SetDefault("observability.otlp_insecure", false)
	v.SetDefault("observability.service_name", "sessiond")
	v.SetDefault("observability.service_version", "dev")
}

// Load builds the configuration from the global viper instance: defaults, then an
// optional config file already read by the caller, then SESSIOND_* environment variables.
func Load() (*Config, error) {
	v := viper.GetViper()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required")
	}

	switch c.Environment {
	case EnvironmentDevelopment, EnvironmentProduction:
	default:
		return fmt.Errorf("environment must be %q or %q, got %q", EnvironmentDevelopment, EnvironmentProduction, c.Environment)
	}

	if len(c.Auth.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d characters", minJWTSecretLength)
	}
	if c.Auth.AccessTTL <= 0 {
		return fmt.Errorf("auth.access_ttl must be positive")
	}
	if c.Auth.RefreshTTL <= 0 {
		return fmt.Errorf("auth.refresh_ttl must be positive")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("auth.bcrypt_cost must be between 4 and 31")
	}

	if len(c.Cookie.Secret) < minCookieSecretLength {
		return fmt.Errorf("cookie.secret must be at least %d characters", minCookieSecretLength)
	}
	if c.Cookie.FlowTTL <= 0 {
		return fmt.Errorf("cookie.flow_ttl must be positive")
	}

	if c.OIDC.Enabled() {
		if c.OIDC.Issuer == "" {
			return fmt.Errorf("oidc.issuer is required when oidc.client_id is set")
		}
		if c.OIDC.ClientSecret == "" {
			return fmt.Errorf("oidc.client_secret is required when oidc.client_id is set")
		}
		if c.OIDC.RedirectURI == "" {
			return fmt.Errorf("oidc.redirect_uri is required when oidc.client_id is set")
		}
		if c.OIDC.ExchangeTimeout <= 0 {
			return fmt.Errorf("oidc.exchange_timeout must be positive")
		}
	}

	if c.Jobs.CleanupInterval <= 0 {
		return fmt.Errorf("jobs.cleanup_interval must be positive")
	}

	return nil
}
