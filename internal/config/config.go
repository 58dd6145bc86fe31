package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sundayezeilo/shortly/internal/idgen"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Cache     CacheConfig
	Title     TitleConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Shortener ShortenerConfig
	App       AppConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"SERVER_PORT" required:"true"`
	Host            string        `envconfig:"SERVER_HOST" required:"true"`
	BaseURL         string        `envconfig:"SERVER_BASE_URL" required:"true"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"20s"`
	IdleTimeout     time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" default:"120s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
	CORSOrigins     []string      `envconfig:"SERVER_CORS_ORIGINS"` // empty allows every origin
}

// Validate validates the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if err := validateOrigin(c.BaseURL); err != nil {
		return fmt.Errorf("base URL: %w", err)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("idle timeout must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	return nil
}

// Addr returns the listen address.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

func validateOrigin(raw string) error {
	if raw == "" {
		return fmt.Errorf("cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	if strings.Trim(u.Path, "/") != "" || u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("must be an origin without path, query or fragment")
	}
	return nil
}

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// DatabaseConfig holds database connection configuration. The DB_HOST..DB_SSLMODE
// fields apply to the postgres driver only.
type DatabaseConfig struct {
	Driver    string `envconfig:"DB_DRIVER" default:"postgres"`
	Host      string `envconfig:"DB_HOST"`
	Port      string `envconfig:"DB_PORT" default:"5432"`
	User      string `envconfig:"DB_USER"`
	Password  string `envconfig:"DB_PASSWORD"`
	Name      string `envconfig:"DB_NAME"`
	SSLMode   string `envconfig:"DB_SSLMODE" default:"disable"`
	MaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns  int32  `envconfig:"DB_MIN_CONNS" default:"2"`
	Migrate   bool   `envconfig:"DB_MIGRATE" default:"true"` // apply schema migrations at startup
	SQLiteDSN string `envconfig:"DB_SQLITE_DSN" default:"shortly.db"`
}

// Validate validates the database configuration.
func (c *DatabaseConfig) Validate() error {
	switch c.Driver {
	case DriverPostgres:
		return c.validatePostgres()
	case DriverSQLite:
		if c.SQLiteDSN == "" {
			return fmt.Errorf("sqlite DSN cannot be empty")
		}
		return nil
	case DriverMemory:
		return nil
	default:
		return fmt.Errorf("invalid driver: %s (must be one of: postgres, sqlite, memory)", c.Driver)
	}
}

func (c *DatabaseConfig) validatePostgres() error {
	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if c.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if c.User == "" {
		return fmt.Errorf("user cannot be empty")
	}
	if c.Password == "" {
		return fmt.Errorf("password cannot be empty")
	}
	if c.Name == "" {
		return fmt.Errorf("database name cannot be empty")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("max connections must be positive")
	}
	if c.MinConns <= 0 {
		return fmt.Errorf("min connections must be positive")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("min connections (%d) cannot be greater than max connections (%d)", c.MinConns, c.MaxConns)
	}

	validSSLModes := map[string]bool{
		"disable":     true,
		"require":     true,
		"verify-ca":   true,
		"verify-full": true,
	}
	if !validSSLModes[c.SSLMode] {
		return fmt.Errorf("invalid SSL mode: %s (must be one of: disable, require, verify-ca, verify-full)", c.SSLMode)
	}
	return nil
}

// ConnectionString returns the PostgreSQL keyword/value connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// URL returns the PostgreSQL connection URL, as needed by schema migrations.
func (c *DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.Name,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

// CacheConfig holds the Redis link cache configuration.
type CacheConfig struct {
	Enabled     bool          `envconfig:"CACHE_ENABLED" default:"false"`
	Addr        string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password    string        `envconfig:"REDIS_PASSWORD"`
	DB          int           `envconfig:"REDIS_DB" default:"0"`
	TTL         time.Duration `envconfig:"CACHE_TTL" default:"10m"`
	NegativeTTL time.Duration `envconfig:"CACHE_NEGATIVE_TTL" default:"30s"`
}

// Validate validates the cache configuration.
func (c *CacheConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Addr == "" {
		return fmt.Errorf("redis address is required when the cache is enabled")
	}
	if c.DB < 0 {
		return fmt.Errorf("redis db must not be negative")
	}
	if c.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}
	if c.NegativeTTL <= 0 || c.NegativeTTL > c.TTL {
		return fmt.Errorf("negative TTL must be positive and at most the cache TTL")
	}
	return nil
}

// TitleConfig configures page title fetching.
type TitleConfig struct {
	Timeout      time.Duration `envconfig:"TITLE_TIMEOUT" default:"5s"`
	MaxBodyBytes int64         `envconfig:"TITLE_MAX_BODY_BYTES" default:"524288"`
	UserAgent    string        `envconfig:"TITLE_USER_AGENT" default:"shortly-title-fetcher/1.0"`
}

// Validate validates the title fetcher configuration.
func (c *TitleConfig) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("title timeout must be positive")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("title max body bytes must be positive")
	}
	return nil
}

// minSecretLength is the shortest HS256 key accepted.
const minSecretLength = 32

// AuthConfig configures bearer token authentication. An empty secret
// disables authentication.
type AuthConfig struct {
	JWTSecret string `envconfig:"AUTH_JWT_SECRET"`
	Issuer    string `envconfig:"AUTH_JWT_ISSUER"`
	Required  bool   `envconfig:"AUTH_REQUIRED" default:"false"`
}

// Enabled reports whether tokens are verified.
func (c *AuthConfig) Enabled() bool { return c.JWTSecret != "" }

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Required && !c.Enabled() {
		return fmt.Errorf("AUTH_REQUIRED needs AUTH_JWT_SECRET")
	}
	if c.Enabled() && len(c.JWTSecret) < minSecretLength {
		return fmt.Errorf("JWT secret must be at least %d bytes", minSecretLength)
	}
	return nil
}

// RateLimitConfig configures per-client request rate limiting.
type RateLimitConfig struct {
	Enabled bool    `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	RPS     float64 `envconfig:"RATE_LIMIT_RPS" default:"10"`
	Burst   int     `envconfig:"RATE_LIMIT_BURST" default:"20"`
}

// Validate validates the rate limit configuration.
func (c *RateLimitConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.RPS <= 0 {
		return fmt.Errorf("rate limit rps must be positive")
	}
	if c.Burst <= 0 {
		return fmt.Errorf("rate limit burst must be positive")
	}
	return nil
}

// ShortenerConfig tunes link creation and resolution.
type ShortenerConfig struct {
	CodeLength     int           `envconfig:"SHORTENER_CODE_LENGTH" default:"7"`
	CodeMaxRetries int           `envconfig:"SHORTENER_CODE_MAX_RETRIES" default:"5"`
	CreateTimeout  time.Duration `envconfig:"SHORTENER_CREATE_TIMEOUT" default:"15s"`
	HomeURL        string        `envconfig:"SHORTENER_HOME_URL" default:"/"`
	IDVersion      string        `envconfig:"SHORTENER_ID_VERSION" default:"v7"`
}

// Validate validates the shortener configuration.
func (c *ShortenerConfig) Validate() error {
	if c.CodeLength < 5 || c.CodeLength > 16 {
		return fmt.Errorf("code length must be between 5 and 16, got %d", c.CodeLength)
	}
	if c.CodeMaxRetries <= 0 {
		return fmt.Errorf("code max retries must be positive")
	}
	if c.CreateTimeout <= 0 {
		return fmt.Errorf("create timeout must be positive")
	}
	if c.HomeURL == "" {
		return fmt.Errorf("home URL cannot be empty")
	}
	if _, err := idgen.ParseVersion(c.IDVersion); err != nil {
		return err
	}
	return nil
}

// AppConfig holds application-specific configuration.
type AppConfig struct {
	Environment    string `envconfig:"APP_ENV" required:"true"`   // development, staging, production, test
	LogLevel       string `envconfig:"LOG_LEVEL" required:"true"` // debug, info, warn, error
	LogFile        string `envconfig:"LOG_FILE"`                  // also write logs here, rotated
	LogMaxSizeMB   int    `envconfig:"LOG_MAX_SIZE_MB" default:"100"`
	LogMaxBackups  int    `envconfig:"LOG_MAX_BACKUPS" default:"5"`
	LogMaxAgeDays  int    `envconfig:"LOG_MAX_AGE_DAYS" default:"28"`
	ServiceName    string `envconfig:"SERVICE_NAME" default:"shortly"`
	ServiceVersion string `envconfig:"SERVICE_VERSION" default:"dev"`
}

// Validate validates the app configuration.
func (c *AppConfig) Validate() error {
	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
		"test":        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s (must be one of: development, staging, production, test)", c.Environment)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}

	if c.LogFile != "" && (c.LogMaxSizeMB <= 0 || c.LogMaxBackups < 0 || c.LogMaxAgeDays < 0) {
		return fmt.Errorf("log rotation: size must be positive, backups and age must not be negative")
	}
	return nil
}

type section struct {
	name     string
	spec     any
	validate func() error
}

// Load loads configuration from environment variables only.
// (Do .env loading in the composition root for dev, not here.)
func Load() (*Config, error) {
	cfg := &Config{}

	sections := []section{
		{"Server", &cfg.Server, cfg.Server.Validate},
		{"Database", &cfg.Database, cfg.Database.Validate},
		{"Cache", &cfg.Cache, cfg.Cache.Validate},
		{"Title", &cfg.Title, cfg.Title.Validate},
		{"Auth", &cfg.Auth, cfg.Auth.Validate},
		{"RateLimit", &cfg.RateLimit, cfg.RateLimit.Validate},
		{"Shortener", &cfg.Shortener, cfg.Shortener.Validate},
		{"App", &cfg.App, cfg.App.Validate},
	}

	for _, s := range sections {
		if err := envconfig.Process("", s.spec); err != nil {
			return nil, fmt.Errorf("failed to load %s config: %w", s.name, err)
		}
		if err := s.validate(); err != nil {
			return nil, fmt.Errorf("invalid %s config: %w", s.name, err)
		}
	}

	return cfg, nil
}
