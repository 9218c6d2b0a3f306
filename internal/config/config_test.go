package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "coder", cfg.DefaultModule)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, 60*time.Minute, cfg.SessionTTL)
	assert.False(t, cfg.Gemini.Enabled())
	assert.False(t, cfg.ConversationLog.Enabled)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "fallback-key")
	t.Setenv("SESSION_TTL", "90")
	t.Setenv("SSE_KEEPALIVE_INTERVAL", "5s")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "60")
	t.Setenv("FRONTEND_URL", "https://chat.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "fallback-key", cfg.Gemini.APIKey)
	assert.Equal(t, 90*time.Second, cfg.SessionTTL)
	assert.Equal(t, 5*time.Second, cfg.SSE.KeepaliveInterval)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, 60, cfg.RateLimit.PerMinute)
	assert.False(t, cfg.IsDevelopment())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"PORT", ""},
		{"DEFAULT_MODULE", ""},
		{"RATE_LIMIT_BURST", "0"},
		{"MAX_UPLOAD_BYTES", "-1"},
		{"SSE_EVENT_BUFFER", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.ErrorContains(t, err, tt.key)
		})
	}
}

func TestGetEnvHelpersFallBack(t *testing.T) {
	t.Setenv("X_BOOL", "maybe")
	t.Setenv("X_INT", "ten")
	t.Setenv("X_DUR", "soon")
	t.Setenv("X_LEVEL", "loud")

	assert.True(t, getEnvBool("X_BOOL", true))
	assert.Equal(t, 7, getEnvInt("X_INT", 7))
	assert.Equal(t, time.Minute, getEnvDuration("X_DUR", time.Minute))
	assert.Equal(t, slog.LevelWarn, getEnvLevel("X_LEVEL", slog.LevelWarn))
}
