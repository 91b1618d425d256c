// Package config provides centralized configuration management for contestgate.
// Configuration is loaded from CONTESTGATE_* environment variables with
// sensible defaults. Required configuration that is missing will cause the
// application to fail fast with helpful error messages.
package config

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"golang.org/x/crypto/hkdf"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "CONTESTGATE_"

// Config holds all application configuration.
type Config struct {
	// Server configuration
	Port              int  `env:"PORT"`
	TrustProxyHeaders bool `env:"TRUST_PROXY_HEADERS"`

	// Database configuration
	DBType string `env:"DB_TYPE"` // "sqlite" (default) or "postgres"
	DB     string `env:"DB"`      // SQLite file path
	DBDSN  string `env:"DB_DSN"`  // Full PostgreSQL DSN

	// Authentication configuration
	AuthType       string        `env:"AUTH_TYPE"`
	SecretKey      string        `env:"SECRET_KEY"`
	CookieDuration time.Duration `env:"COOKIE_DURATION"`

	// Login throttling
	LoginRateLimit float64 `env:"LOGIN_RATE_LIMIT"` // attempts per second per key (0 = disabled)
	LoginBurst     int     `env:"LOGIN_BURST"`

	// OpenID Connect flow configuration
	OIDCExchangeTimeout time.Duration `env:"OIDC_EXCHANGE_TIMEOUT"`
	OIDCStateTTL        time.Duration `env:"OIDC_STATE_TTL"`

	// Observability
	LogLevel     string `env:"LOG_LEVEL"`
	LogFormat    string `env:"LOG_FORMAT"`
	OTELEndpoint string `env:"OTEL_ENDPOINT"`
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors holds multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("configuration errors:\n  - %s", strings.Join(msgs, "\n  - "))
}

// Default values
const (
	DefaultPort                = 8888
	DefaultDBPath              = "contestgate.db"
	DefaultDBType              = "sqlite"
	DefaultAuthType            = "password"
	DefaultCookieDuration      = 3 * time.Hour
	DefaultLoginRateLimit      = float64(1) // 1 attempt/sec per key
	DefaultLoginBurst          = 10
	DefaultOIDCExchangeTimeout = 10 * time.Second
	DefaultOIDCStateTTL        = 10 * time.Minute
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"

	MinSecretKeyLength = 32
)

// Load reads configuration from environment variables and returns a Config.
// It applies defaults for optional values and validates the configuration.
// Returns an error if validation fails.
func Load() (*Config, error) {
	cfg := defaults()

	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Port:                DefaultPort,
		DBType:              DefaultDBType,
		DB:                  DefaultDBPath,
		AuthType:            DefaultAuthType,
		CookieDuration:      DefaultCookieDuration,
		LoginRateLimit:      DefaultLoginRateLimit,
		LoginBurst:          DefaultLoginBurst,
		OIDCExchangeTimeout: DefaultOIDCExchangeTimeout,
		OIDCStateTTL:        DefaultOIDCStateTTL,
		LogLevel:            DefaultLogLevel,
		LogFormat:           DefaultLogFormat,
	}
}

// loadFromEnv populates the config from environment variables. Values that
// fail to parse are reported together as ValidationErrors.
func (c *Config) loadFromEnv() error {
	err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix})
	if err == nil {
		return nil
	}

	var parseErrors ValidationErrors
	var agg env.AggregateError
	if errors.As(err, &agg) {
		for _, e := range agg.Errors {
			parseErrors = append(parseErrors, toValidationError(e))
		}
		return parseErrors
	}
	return ValidationErrors{toValidationError(err)}
}

func toValidationError(err error) ValidationError {
	var pe env.ParseError
	if errors.As(err, &pe) {
		return ValidationError{
			Field:   pe.Name,
			Message: fmt.Sprintf("invalid value (must be a %s): %v", pe.Type, pe.Err),
		}
	}
	return ValidationError{Field: "environment", Message: err.Error()}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   EnvPrefix + "PORT",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Port),
		})
	}

	switch c.DBType {
	case "sqlite":
		if c.DB == "" {
			errs = append(errs, ValidationError{
				Field:   EnvPrefix + "DB",
				Message: "database path cannot be empty",
			})
		}
	case "postgres":
		if c.DBDSN == "" {
			errs = append(errs, ValidationError{
				Field:   EnvPrefix + "DB_DSN",
				Message: "PostgreSQL requires " + EnvPrefix + "DB_DSN",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   EnvPrefix + "DB_TYPE",
			Message: fmt.Sprintf("unsupported database type: %q (must be \"sqlite\" or \"postgres\")", c.DBType),
		})
	}

	switch c.AuthType {
	case "password", "openidconnect":
	default:
		errs = append(errs, ValidationError{
			Field:   EnvPrefix + "AUTH_TYPE",
			Message: fmt.Sprintf("unknown auth type: %q (must be \"password\" or \"openidconnect\")", c.AuthType),
		})
	}

	if len(c.SecretKey) < MinSecretKeyLength {
		errs = append(errs, ValidationError{
			Field:   EnvPrefix + "SECRET_KEY",
			Message: fmt.Sprintf("secret key must be at least %d characters", MinSecretKeyLength),
		})
	}

	if c.CookieDuration <= 0 {
		errs = append(errs, ValidationError{
			Field:   EnvPrefix + "COOKIE_DURATION",
			Message: fmt.Sprintf("cookie duration must be positive, got %s", c.CookieDuration),
		})
	}

	if c.LoginRateLimit < 0 {
		errs = append(errs, ValidationError{
			Field:   EnvPrefix + "LOGIN_RATE_LIMIT",
			Message: "rate limit cannot be negative",
		})
	}
	if c.LoginRateLimit > 0 && c.LoginBurst < 1 {
		errs = append(errs, ValidationError{
			Field:   EnvPrefix + "LOGIN_BURST",
			Message: "burst must be at least 1 when rate limiting is enabled",
		})
	}

	if c.OIDCExchangeTimeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   EnvPrefix + "OIDC_EXCHANGE_TIMEOUT",
			Message: fmt.Sprintf("timeout must be positive, got %s", c.OIDCExchangeTimeout),
		})
	}
	if c.OIDCStateTTL <= 0 {
		errs = append(errs, ValidationError{
			Field:   EnvPrefix + "OIDC_STATE_TTL",
			Message: fmt.Sprintf("state TTL must be positive, got %s", c.OIDCStateTTL),
		})
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   EnvPrefix + "LOG_LEVEL",
			Message: fmt.Sprintf("unknown log level: %q", c.LogLevel),
		})
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   EnvPrefix + "LOG_FORMAT",
			Message: fmt.Sprintf("unknown log format: %q (must be \"text\" or \"json\")", c.LogFormat),
		})
	}

	return errs
}

// DSN returns the database connection string for the configured database type.
func (c *Config) DSN() string {
	if c.DBType == "postgres" {
		return c.DBDSN
	}
	return c.DB
}

// Keys holds the secrets derived from the configured secret key.
type Keys struct {
	CookieHash  []byte // HMAC key for signed cookies
	CookieBlock []byte // AES-256 key for encrypted cookies
	Token       []byte // HS256 key for login session tokens
}

// DeriveKeys expands SecretKey into independent keys, one per purpose.
func (c *Config) DeriveKeys() (Keys, error) {
	var k Keys
	var err error
	if k.CookieHash, err = deriveKey(c.SecretKey, "contestgate cookie hash", 64); err != nil {
		return Keys{}, err
	}
	if k.CookieBlock, err = deriveKey(c.SecretKey, "contestgate cookie block", 32); err != nil {
		return Keys{}, err
	}
	if k.Token, err = deriveKey(c.SecretKey, "contestgate session token", 32); err != nil {
		return Keys{}, err
	}
	return k, nil
}

func deriveKey(secret, info string, size int) ([]byte, error) {
	key := make([]byte, size)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(info))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive %s key: %w", info, err)
	}
	return key, nil
}

// MustLoad loads configuration and exits if it fails.
// Use this for application startup where configuration errors are fatal.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: failed to load configuration\n\n%s\n", err)
		os.Exit(1)
	}
	return cfg
}

// Overrides carries command-line values that take precedence over the
// environment. Zero values leave the environment setting in place.
type Overrides struct {
	Port     int
	DBType   string
	DB       string
	AuthType string
}

// LoadWithFlags loads configuration from environment variables,
// then applies command-line flag overrides.
func LoadWithFlags(o Overrides) (*Config, error) {
	cfg := defaults()
	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}

	if o.Port != 0 {
		cfg.Port = o.Port
	}
	if o.DBType != "" {
		cfg.DBType = o.DBType
	}
	if o.DB != "" {
		cfg.DB = o.DB
	}
	if o.AuthType != "" {
		cfg.AuthType = o.AuthType
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs
	}

	return cfg, nil
}

// LoadDatabase is LoadWithFlags for administrative commands that only touch
// the database. Settings unrelated to the database are not validated, so a
// secret key is not required.
func LoadDatabase(o Overrides) (*Config, error) {
	cfg := defaults()
	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}
	if o.DBType != "" {
		cfg.DBType = o.DBType
	}
	if o.DB != "" {
		cfg.DB = o.DB
	}

	var errs ValidationErrors
	for _, e := range cfg.Validate() {
		switch e.Field {
		case EnvPrefix + "DB_TYPE", EnvPrefix + "DB", EnvPrefix + "DB_DSN":
			errs = append(errs, e)
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return cfg, nil
}
