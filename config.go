package sessioncore

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config carries every tunable of the session core. Build it in code or
// load it from the environment with LoadConfig; either way Validate runs
// before an Engine is constructed and fills defaults in place.
type Config struct {
	JWT       JWTConfig
	Session   SessionConfig
	CSRF      CSRFConfig
	Assertion AssertionConfig
	Cookies   CookieConfig
	Gateway   GatewayConfig
}

// JWTConfig configures the credential codec. Key material may be set
// directly or loaded from the *File paths by LoadConfig.
type JWTConfig struct {
	SigningMethod  string        `env:"SESSION_JWT_SIGNING_METHOD" envDefault:"ed25519"`
	Issuer         string        `env:"SESSION_JWT_ISSUER"`
	AccessTTL      time.Duration `env:"SESSION_ACCESS_TTL" envDefault:"15m"`
	RefreshTTL     time.Duration `env:"SESSION_REFRESH_TTL" envDefault:"24h"`
	RememberMeTTL  time.Duration `env:"SESSION_REMEMBER_ME_TTL" envDefault:"720h"`
	Leeway         time.Duration `env:"SESSION_JWT_LEEWAY" envDefault:"30s"`
	PrivateKeyFile string        `env:"SESSION_JWT_PRIVATE_KEY_FILE"`
	PublicKeyFile  string        `env:"SESSION_JWT_PUBLIC_KEY_FILE"`
	PrivateKey     []byte
	PublicKey      []byte
}

// SessionConfig configures the liveness store.
type SessionConfig struct {
	RedisPrefix    string        `env:"SESSION_REDIS_PREFIX" envDefault:"sessioncore"`
	RevokedMarkTTL time.Duration `env:"SESSION_REVOKED_MARK_TTL" envDefault:"168h"`
}

// CSRFConfig configures the double-submit guard. Paths in WhitelistPaths
// use the same patterns as GatewayConfig.WhitelistPaths. AllowedOrigins
// must be non-empty while the guard is enabled; cookie-authenticated
// unsafe requests whose Origin (or parsed Referer) is absent or not in
// the list are rejected.
type CSRFConfig struct {
	Enabled           bool     `env:"SESSION_CSRF_ENABLED" envDefault:"true"`
	HeaderName        string   `env:"SESSION_CSRF_HEADER" envDefault:"X-Csrf-Token"`
	CookieName        string   `env:"SESSION_CSRF_COOKIE" envDefault:"csrf-token"`
	RefreshHeaderName string   `env:"SESSION_CSRF_REFRESH_HEADER" envDefault:"X-Refresh-Csrf-Token"`
	RefreshCookieName string   `env:"SESSION_CSRF_REFRESH_COOKIE" envDefault:"refresh-csrf-token"`
	RefreshPaths      []string `env:"SESSION_CSRF_REFRESH_PATHS" envSeparator:"," envDefault:"/auth/refresh"`
	AllowedOrigins    []string `env:"SESSION_CSRF_ALLOWED_ORIGINS" envSeparator:","`
	WhitelistPaths    []string `env:"SESSION_CSRF_WHITELIST" envSeparator:","`
}

// AssertionConfig configures per-request service assertions. Audiences
// maps a path prefix to the audience downstream services verify against,
// e.g. "/billing" -> "billing".
type AssertionConfig struct {
	Enabled        bool              `env:"SESSION_ASSERTION_ENABLED" envDefault:"true"`
	HeaderName     string            `env:"SESSION_ASSERTION_HEADER" envDefault:"X-Service-Assertion"`
	TTL            time.Duration     `env:"SESSION_ASSERTION_TTL" envDefault:"10s"`
	Audiences      map[string]string `env:"SESSION_ASSERTION_AUDIENCES" envSeparator:"," envKeyValSeparator:"="`
	PrivateKeyFile string            `env:"SESSION_ASSERTION_PRIVATE_KEY_FILE"`
	PrivateKey     []byte
}

// CookieConfig controls how credentials and CSRF tokens are written as
// cookies. SameSite accepts "lax", "strict", or "none".
type CookieConfig struct {
	AccessName  string `env:"SESSION_COOKIE_ACCESS_NAME" envDefault:"auth-token"`
	RefreshName string `env:"SESSION_COOKIE_REFRESH_NAME" envDefault:"refresh-token"`
	Domain      string `env:"SESSION_COOKIE_DOMAIN"`
	Path        string `env:"SESSION_COOKIE_PATH" envDefault:"/"`
	Secure      bool   `env:"SESSION_COOKIE_SECURE" envDefault:"true"`
	SameSite    string `env:"SESSION_COOKIE_SAMESITE" envDefault:"lax"`
}

// GatewayConfig configures the edge authentication stage. Whitelist
// patterns support "*" for one path segment and a trailing "**" for any
// suffix.
type GatewayConfig struct {
	WhitelistPaths []string `env:"SESSION_AUTH_WHITELIST" envSeparator:","`
	TrustedProxies []string `env:"SESSION_TRUSTED_PROXIES" envSeparator:","`
	RequireHTTPS   bool     `env:"SESSION_REQUIRE_HTTPS"`
}

// LoadConfig reads the configuration from the environment, loads any key
// files, and validates the result.
func LoadConfig() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.loadKeyFiles(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadKeyFiles() error {
	load := func(path string, dst *[]byte) error {
		if path == "" || len(*dst) > 0 {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read key file %s: %w", path, err)
		}
		*dst = data
		return nil
	}
	if err := load(c.JWT.PrivateKeyFile, &c.JWT.PrivateKey); err != nil {
		return err
	}
	if err := load(c.JWT.PublicKeyFile, &c.JWT.PublicKey); err != nil {
		return err
	}
	return load(c.Assertion.PrivateKeyFile, &c.Assertion.PrivateKey)
}

// Validate fills defaults and rejects configurations the Engine cannot
// run safely with.
func (c *Config) Validate() error {
	switch c.JWT.SigningMethod {
	case "":
		c.JWT.SigningMethod = "ed25519"
	case "ed25519", "hs256":
	default:
		return fmt.Errorf("unsupported signing method %q", c.JWT.SigningMethod)
	}
	if c.JWT.AccessTTL <= 0 {
		c.JWT.AccessTTL = 15 * time.Minute
	}
	if c.JWT.RefreshTTL <= 0 {
		c.JWT.RefreshTTL = 24 * time.Hour
	}
	if c.JWT.RememberMeTTL <= 0 {
		c.JWT.RememberMeTTL = 30 * 24 * time.Hour
	}
	if c.JWT.AccessTTL >= c.JWT.RefreshTTL {
		return errors.New("access TTL must be shorter than refresh TTL")
	}
	if c.JWT.RememberMeTTL < c.JWT.RefreshTTL {
		return errors.New("remember-me TTL must not be shorter than refresh TTL")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("jwt leeway out of range")
	}
	if len(c.JWT.PrivateKey) == 0 {
		return errors.New("jwt private key is required")
	}

	if c.Session.RedisPrefix == "" {
		c.Session.RedisPrefix = "sessioncore"
	}
	if c.Session.RevokedMarkTTL <= 0 {
		c.Session.RevokedMarkTTL = 7 * 24 * time.Hour
	}

	if c.CSRF.Enabled {
		if c.CSRF.HeaderName == "" {
			c.CSRF.HeaderName = "X-Csrf-Token"
		}
		if c.CSRF.CookieName == "" {
			c.CSRF.CookieName = "csrf-token"
		}
		if c.CSRF.RefreshHeaderName == "" {
			c.CSRF.RefreshHeaderName = "X-Refresh-Csrf-Token"
		}
		if c.CSRF.RefreshCookieName == "" {
			c.CSRF.RefreshCookieName = "refresh-csrf-token"
		}
		if len(c.CSRF.AllowedOrigins) == 0 {
			return errors.New("csrf allowed origins are required when the guard is enabled")
		}
	}

	if c.Assertion.Enabled {
		if c.Assertion.HeaderName == "" {
			c.Assertion.HeaderName = "X-Service-Assertion"
		}
		if c.Assertion.TTL <= 0 {
			c.Assertion.TTL = 10 * time.Second
		}
		if c.Assertion.TTL > time.Minute {
			return errors.New("assertion TTL must stay seconds-scale")
		}
		if len(c.Assertion.PrivateKey) == 0 {
			return errors.New("assertion private key is required when assertions are enabled")
		}
		if len(c.Assertion.Audiences) == 0 {
			return errors.New("assertion audience map is required when assertions are enabled")
		}
	}

	if c.Cookies.AccessName == "" {
		c.Cookies.AccessName = "auth-token"
	}
	if c.Cookies.RefreshName == "" {
		c.Cookies.RefreshName = "refresh-token"
	}
	if c.Cookies.Path == "" {
		c.Cookies.Path = "/"
	}
	if _, err := c.Cookies.sameSite(); err != nil {
		return err
	}
	return nil
}

func (c *CookieConfig) sameSite() (http.SameSite, error) {
	switch strings.ToLower(c.SameSite) {
	case "", "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, fmt.Errorf("unsupported SameSite mode %q", c.SameSite)
	}
}

// pathMatch reports whether path matches pattern. "*" matches exactly one
// path segment, a trailing "**" matches any remaining suffix, anything
// else must match literally.
func pathMatch(pattern, path string) bool {
	if pattern == path {
		return true
	}
	patSegs := strings.Split(strings.Trim(pattern, "/"), "/")
	pathSegs := strings.Split(strings.Trim(path, "/"), "/")
	for i, seg := range patSegs {
		if seg == "**" {
			return true
		}
		if i >= len(pathSegs) {
			return false
		}
		if seg != "*" && seg != pathSegs[i] {
			return false
		}
	}
	return len(patSegs) == len(pathSegs)
}

func matchAny(patterns []string, path string) bool {
	for _, pattern := range patterns {
		if pathMatch(pattern, path) {
			return true
		}
	}
	return false
}
