package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Itqan-community/cms-backend-sub002/pkg/observability"
)

const testHashKey = "0123456789abcdef0123456789abcdef"

func setRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/cms_test")
	t.Setenv("SECRET_HASH_KEY", testHashKey)
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, 25, cfg.Database.MaxConns)
	assert.Equal(t, time.Hour, cfg.RateLimit.Window)
	assert.Equal(t, 100, cfg.RateLimit.AnonymousLimit)
	assert.Equal(t, 20, cfg.Pagination.DefaultPageSize)
	assert.Equal(t, observability.InfoLevel, cfg.LogLevel)

	// The queue falls back to the cache instance
	assert.Equal(t, cfg.Redis.URL, cfg.Redis.QueueURL)
}

func TestLoadConfig_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("CMS_PORT", "9999")
	t.Setenv("CMS_RATE_LIMIT_WINDOW", "30m")
	t.Setenv("CMS_RATE_LIMIT_ANONYMOUS", "50")
	t.Setenv("QUEUE_URL", "redis://queue:6379/1")
	t.Setenv("ADMIN_EMAILS", "ops@example.com, admin@example.com ,")
	t.Setenv("CMS_LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.Server.Port)
	assert.Equal(t, 30*time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 50, cfg.RateLimit.AnonymousLimit)
	assert.Equal(t, "redis://queue:6379/1", cfg.Redis.QueueURL)
	assert.Equal(t, []string{"ops@example.com", "admin@example.com"}, cfg.Notifications.AdminEmails)
	assert.Equal(t, observability.DebugLevel, cfg.LogLevel)
}

func TestLoadConfig_InvalidValuesFallBack(t *testing.T) {
	setRequired(t)
	t.Setenv("CMS_POSTGRES_MAX_CONNS", "lots")
	t.Setenv("CMS_READ_TIMEOUT", "soon")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Database.MaxConns)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
}

func TestValidate(t *testing.T) {
	t.Run("missing database url", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "")
		t.Setenv("SECRET_HASH_KEY", testHashKey)
		_, err := LoadConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "DATABASE_URL")
	})

	t.Run("missing hash key", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://localhost/cms_test")
		t.Setenv("SECRET_HASH_KEY", "")
		_, err := LoadConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "SECRET_HASH_KEY")
	})

	t.Run("short hash key", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://localhost/cms_test")
		t.Setenv("SECRET_HASH_KEY", "tooshort")
		_, err := LoadConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "32 bytes")
	})

	t.Run("page size out of range", func(t *testing.T) {
		setRequired(t)
		t.Setenv("CMS_DEFAULT_PAGE_SIZE", "5000")
		_, err := LoadConfig()
		assert.Error(t, err)
	})
}
