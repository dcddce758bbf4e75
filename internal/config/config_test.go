package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "data/chat.db", cfg.DatabasePath)
	assert.Equal(t, 50*time.Hour, cfg.JWTExpiration)
	assert.Equal(t, "gpt-4o", cfg.Model)
	assert.Equal(t, 60, cfg.RateLimitRequests)
	assert.False(t, cfg.TracingEnabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_PATH", "/tmp/other.db")
	t.Setenv("JWT_EXPIRATION", "1h")
	t.Setenv("RATE_LIMIT_REQUESTS", "5")
	t.Setenv("TRACING_ENABLED", "true")

	cfg := Load()

	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, "/tmp/other.db", cfg.DatabasePath)
	assert.Equal(t, time.Hour, cfg.JWTExpiration)
	assert.Equal(t, 5, cfg.RateLimitRequests)
	assert.True(t, cfg.TracingEnabled)
}
