// Package config loads application configuration from environment
// variables, with an optional YAML file for role seeding.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Itqan-community/cms-backend-sub002/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Auth          AuthConfig
	RateLimit     RateLimitConfig
	Notifications NotificationConfig
	Pagination    PaginationConfig
	LogLevel      observability.LogLevel
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL         string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds cache and queue configuration. QueueURL defaults to
// the cache URL when unset; a separate broker is only needed at scale.
type RedisConfig struct {
	URL      string
	QueueURL string
}

// AuthConfig holds credential hashing configuration
type AuthConfig struct {
	// SecretHashKey keys the HMAC over credential secrets. Rotating it
	// invalidates every issued credential.
	SecretHashKey string
}

// RateLimitConfig holds sliding-window limiter configuration
type RateLimitConfig struct {
	// Window is the sliding window duration
	Window time.Duration
	// AnonymousLimit applies per client IP when no credential is presented
	AnonymousLimit int
}

// NotificationConfig holds notification dispatch configuration
type NotificationConfig struct {
	FromAddress string
	// SMTPAddr is the relay host:port. Empty means notifications are
	// written to the log instead of delivered.
	SMTPAddr    string
	AdminEmails []string
	// RolesFile optionally points at a YAML file overriding the seeded
	// role definitions
	RolesFile string
}

// PaginationConfig holds list endpoint defaults
type PaginationConfig struct {
	DefaultPageSize int
	MaxPageSize     int
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("CMS_HOST", "0.0.0.0"),
			Port:            getEnv("CMS_PORT", "8080"),
			ReadTimeout:     getEnvDuration("CMS_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("CMS_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("CMS_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("CMS_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("CMS_HEALTH_PORT", "9090"),
		},
		Database: DatabaseConfig{
			URL:         getEnv("DATABASE_URL", ""),
			MaxConns:    getEnvInt("CMS_POSTGRES_MAX_CONNS", 25),
			MinConns:    getEnvInt("CMS_POSTGRES_MIN_CONNS", 5),
			Timeout:     getEnvDuration("CMS_POSTGRES_TIMEOUT", 10*time.Second),
			MaxLifetime: getEnvDuration("CMS_POSTGRES_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),
			QueueURL: getEnv("QUEUE_URL", ""),
		},
		Auth: AuthConfig{
			SecretHashKey: getEnv("SECRET_HASH_KEY", ""),
		},
		RateLimit: RateLimitConfig{
			Window:         getEnvDuration("CMS_RATE_LIMIT_WINDOW", time.Hour),
			AnonymousLimit: getEnvInt("CMS_RATE_LIMIT_ANONYMOUS", 100),
		},
		Notifications: NotificationConfig{
			FromAddress: getEnv("NOTIFY_FROM", "noreply@itqan.dev"),
			SMTPAddr:    getEnv("NOTIFY_SMTP_ADDR", ""),
			AdminEmails: getEnvList("ADMIN_EMAILS"),
			RolesFile:   getEnv("CMS_ROLES_FILE", ""),
		},
		Pagination: PaginationConfig{
			DefaultPageSize: getEnvInt("CMS_DEFAULT_PAGE_SIZE", 20),
			MaxPageSize:     getEnvInt("CMS_MAX_PAGE_SIZE", 1000),
		},
		LogLevel: observability.ParseLogLevel(getEnv("CMS_LOG_LEVEL", "info")),
	}

	if cfg.Redis.QueueURL == "" {
		cfg.Redis.QueueURL = cfg.Redis.URL
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for required values
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Auth.SecretHashKey == "" {
		return fmt.Errorf("SECRET_HASH_KEY is required")
	}
	if len(c.Auth.SecretHashKey) < 32 {
		return fmt.Errorf("SECRET_HASH_KEY must be at least 32 bytes")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}
	if c.Pagination.DefaultPageSize < 1 || c.Pagination.DefaultPageSize > c.Pagination.MaxPageSize {
		return fmt.Errorf("default page size %d out of range [1, %d]",
			c.Pagination.DefaultPageSize, c.Pagination.MaxPageSize)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
