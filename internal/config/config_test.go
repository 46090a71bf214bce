package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.App.Port)
	assert.Equal(t, "qr_codes", cfg.App.QRCodeDir)
	assert.Equal(t, "file:qrcodes.db", cfg.DB.URL)
	assert.Equal(t, "mixtral-8x7b-32768", cfg.Assistant.Model)
	assert.Equal(t, 30*time.Second, cfg.Assistant.Timeout)
	assert.Equal(t, time.Second, cfg.Assistant.MinInterval)
	assert.True(t, cfg.Assistant.Reprompt)
	assert.False(t, cfg.Redis.Enabled())
	assert.False(t, cfg.App.IsProduction())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("APP_ENV", "production")
	t.Setenv("PUBLIC_BASE_URL", "https://qr.example.com/")
	t.Setenv("DATABASE_URL", "postgres://user:pass@db:5432/qr")
	t.Setenv("GROQ_API_KEY", "secret")
	t.Setenv("LLM_MIN_INTERVAL", "250ms")
	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("API_KEYS", "k1:admin, k2:bot")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.App.IsProduction())
	assert.Equal(t, "https://qr.example.com", cfg.App.BaseURL)
	assert.Equal(t, "postgres://user:pass@db:5432/qr", cfg.DB.URL)
	assert.Equal(t, "secret", cfg.Assistant.APIKey)
	assert.Equal(t, 250*time.Millisecond, cfg.Assistant.MinInterval)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, map[string]string{"k1": "admin", "k2": "bot"}, cfg.Auth.APIKeys)
}

func TestLoad_InvalidRateLimit(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RATE_LIMIT_RPS", "-1")

	_, err := Load()
	assert.Error(t, err)
}

func TestParseAPIKeys(t *testing.T) {
	assert.Empty(t, parseAPIKeys(""))
	assert.Equal(t, map[string]string{"a": "b"}, parseAPIKeys("a:b,broken,:nokey"))
}
