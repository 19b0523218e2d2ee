// Package config provides configuration management for the connection service.
// It loads configuration from environment variables with sensible defaults
// and validates it so the service never starts half-configured.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - LOG_FILE: Log file path (default: stdout)
//   - LOG_FORMAT: "console" or "json" (default: console)
//   - FRONTEND_URL: Base URL the OAuth callback redirects to (default: http://localhost:3000)
//   - BACKEND_URL: Public base URL of this service, used for redirect URIs (default: http://localhost:8080)
//
// Database Configuration:
//   - DATABASE_TYPE: Database type - "sqlite" or "postgres" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./area_connect.db)
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_DB, POSTGRES_USER, POSTGRES_PASSWORD, POSTGRES_SSL_MODE
//
// Redis Configuration (optional, enables the Redis CSRF store and distributed refresh locks):
//   - REDIS_ADDRESS: Redis server address (default: empty, Redis disabled)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//   - CSRF_STORE: "memory" or "redis" (default: memory)
//
// Security Configuration:
//   - JWT_SECRET: JWT verification secret (required, minimum 32 characters)
//   - TOKEN_ENCRYPTION_KEY: Key protecting stored provider tokens (required, minimum 32 characters)
//
// Providers:
//   - GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET
//   - GITHUB_CLIENT_ID, GITHUB_CLIENT_SECRET
//
// Token lifecycle:
//   - STATE_TTL: CSRF state lifetime (default: 10m)
//   - REFRESH_WINDOW: Refresh tokens expiring within this window (default: 5m)
//   - PROVIDER_TIMEOUT: Bound on every provider call (default: 10s)
//   - PROACTIVE_REFRESH_SCHEDULE: Cron expression for the refresh sweep, empty disables it (default: @every 1m)
//
// Rate limiting of the OAuth endpoints:
//   - RATE_LIMIT_RPS: Sustained requests per second per caller, 0 disables (default: 1)
//   - RATE_LIMIT_BURST: Bucket size per caller (default: 10)
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
)

// CSRF store backends
const (
	CSRFStoreMemory = "memory"
	CSRFStoreRedis  = "redis"
)

// Config holds all configuration values for the connection service.
type Config struct {
	// Application settings
	Port        string
	LogLevel    string
	LogFile     string
	LogFormat   string
	FrontendURL string
	BackendURL  string

	// Database configuration
	DatabaseType     string // "sqlite" or "postgres"
	DatabasePath     string
	PostgresHost     string
	PostgresPort     string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string

	// Redis configuration
	RedisAddress  string
	RedisPassword string
	RedisDB       string
	RedisPoolSize string
	CSRFStore     string

	// Security
	JWTSecret          string
	TokenEncryptionKey string

	// Provider credentials
	GoogleClientID     string
	GoogleClientSecret string
	GitHubClientID     string
	GitHubClientSecret string

	// Token lifecycle
	StateTTL                 time.Duration
	RefreshWindow            time.Duration
	ProviderTimeout          time.Duration
	ProactiveRefreshSchedule string

	// Per-caller throttling of the OAuth endpoints; zero RPS disables it
	RateLimitRPS   float64
	RateLimitBurst int
}

// Load creates a new Config instance with values loaded from environment variables.
// It does not validate; call Validate on the result.
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFile:     getEnv("LOG_FILE", ""),
		LogFormat:   getEnv("LOG_FORMAT", "console"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3000"),
		BackendURL:  getEnv("BACKEND_URL", "http://localhost:8080"),

		DatabaseType:     getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath:     getEnv("DATABASE_PATH", "./area_connect.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", "area_connect"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		RedisAddress:  getEnv("REDIS_ADDRESS", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnv("REDIS_DB", "0"),
		RedisPoolSize: getEnv("REDIS_POOL_SIZE", "10"),
		CSRFStore:     getEnv("CSRF_STORE", CSRFStoreMemory),

		JWTSecret:          getEnv("JWT_SECRET", ""),
		TokenEncryptionKey: getEnv("TOKEN_ENCRYPTION_KEY", ""),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GitHubClientID:     getEnv("GITHUB_CLIENT_ID", ""),
		GitHubClientSecret: getEnv("GITHUB_CLIENT_SECRET", ""),

		StateTTL:                 getDurationEnv("STATE_TTL", 10*time.Minute),
		RefreshWindow:            getDurationEnv("REFRESH_WINDOW", 5*time.Minute),
		ProviderTimeout:          getDurationEnv("PROVIDER_TIMEOUT", 10*time.Second),
		ProactiveRefreshSchedule: getEnvAllowEmpty("PROACTIVE_REFRESH_SCHEDULE", "@every 1m"),

		RateLimitRPS:   getFloatEnv("RATE_LIMIT_RPS", 1),
		RateLimitBurst: getIntEnv("RATE_LIMIT_BURST", 10),
	}
}

// getEnv retrieves an environment variable value or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAllowEmpty is getEnv where an explicitly empty variable wins over the default.
func getEnvAllowEmpty(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

// getDurationEnv parses a duration variable, falling back to the default when
// unset or unparsable.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// RateLimitEnabled reports whether OAuth endpoints are throttled.
func (c *Config) RateLimitEnabled() bool {
	return c.RateLimitRPS > 0
}

// IsPostgres reports whether the PostgreSQL backend is selected.
func (c *Config) IsPostgres() bool {
	return c.DatabaseType == "postgres" || c.DatabaseType == "postgresql"
}

// RedisEnabled reports whether a Redis address is configured.
func (c *Config) RedisEnabled() bool {
	return c.RedisAddress != ""
}

// PostgresDSN builds the pgx connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		url.QueryEscape(c.PostgresUser), url.QueryEscape(c.PostgresPassword),
		c.PostgresHost, c.PostgresPort, c.PostgresDB, c.PostgresSSLMode)
}

// HasGoogle reports whether Google credentials are configured.
func (c *Config) HasGoogle() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// HasGitHub reports whether GitHub credentials are configured.
func (c *Config) HasGitHub() bool {
	return c.GitHubClientID != "" && c.GitHubClientSecret != ""
}

// Validate checks required fields, formats and cross-field dependencies.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long for security")
	}

	if c.TokenEncryptionKey == "" {
		return fmt.Errorf("TOKEN_ENCRYPTION_KEY environment variable is required")
	}
	if len(c.TokenEncryptionKey) < 32 {
		return fmt.Errorf("TOKEN_ENCRYPTION_KEY must be at least 32 characters long")
	}

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be 'console' or 'json'")
	}

	for name, raw := range map[string]string{"FRONTEND_URL": c.FrontendURL, "BACKEND_URL": c.BackendURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL", name)
		}
	}

	switch c.DatabaseType {
	case "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("DATABASE_TYPE must be 'sqlite' or 'postgres'")
	}

	if c.IsPostgres() {
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required when using PostgreSQL")
		}
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required when using PostgreSQL")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required when using PostgreSQL")
		}
		if port, err := strconv.Atoi(c.PostgresPort); err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("POSTGRES_PORT must be a valid port number")
		}
	}

	if c.RedisEnabled() {
		if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
			return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
		}
		if poolSize, err := strconv.Atoi(c.RedisPoolSize); err != nil || poolSize < 1 {
			return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
		}
	}

	switch c.CSRFStore {
	case CSRFStoreMemory:
	case CSRFStoreRedis:
		if !c.RedisEnabled() {
			return fmt.Errorf("CSRF_STORE=redis requires REDIS_ADDRESS")
		}
	default:
		return fmt.Errorf("CSRF_STORE must be 'memory' or 'redis'")
	}

	if c.StateTTL <= 0 {
		return fmt.Errorf("STATE_TTL must be a positive duration")
	}
	if c.RefreshWindow < 0 {
		return fmt.Errorf("REFRESH_WINDOW must not be negative")
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be a positive duration")
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must not be negative")
	}
	if c.RateLimitEnabled() && c.RateLimitBurst < 1 {
		return fmt.Errorf("RATE_LIMIT_BURST must be a positive number")
	}

	if c.ProactiveRefreshSchedule != "" {
		if _, err := cron.ParseStandard(c.ProactiveRefreshSchedule); err != nil {
			return fmt.Errorf("PROACTIVE_REFRESH_SCHEDULE is not a valid cron expression: %w", err)
		}
	}

	if !c.HasGoogle() && !c.HasGitHub() {
		return fmt.Errorf("at least one OAuth provider must be configured (GOOGLE_CLIENT_ID/SECRET or GITHUB_CLIENT_ID/SECRET)")
	}

	return nil
}
