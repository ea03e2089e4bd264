package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RequiresPostgresDSN(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("JWT_SECRET", "secret")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POSTGRES_DSN")
}

func TestLoad_RequiresJWTSecret(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/clinic")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/clinic")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("REDIS_URL", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("SLOT_CACHE_TTL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "127.0.0.1:6379", cfg.RedisAddr)
	assert.Equal(t, 30*time.Second, cfg.SlotCacheTTL)
	assert.True(t, cfg.MigrateOnStart)
	assert.True(t, cfg.CacheEnabled())
}

func TestLoad_RedisURLAndOverrides(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/clinic")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("REDIS_URL", "redis://alice:pw@cache.internal:6380")
	t.Setenv("SLOT_CACHE_TTL", "5")
	t.Setenv("SHUTDOWN_TIMEOUT", "1m")
	t.Setenv("RATE_LIMIT_RPS", "12.5")
	t.Setenv("MIGRATE_ON_START", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "cache.internal:6380", cfg.RedisAddr)
	assert.Equal(t, "alice", cfg.RedisUsername)
	assert.Equal(t, "pw", cfg.RedisPassword)
	assert.Equal(t, 5*time.Second, cfg.SlotCacheTTL)
	assert.Equal(t, time.Minute, cfg.ShutdownTimeout)
	assert.Equal(t, 12.5, cfg.RateLimitRPS)
	assert.False(t, cfg.MigrateOnStart)
}
