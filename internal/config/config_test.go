package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.App.Addr())
	assert.Equal(t, 5, cfg.Queue.MaxRetries)
	assert.Equal(t, 24, cfg.Conversation.WindowHours)
	assert.Equal(t, time.Hour, cfg.Templates.CacheTTL())
	assert.Equal(t, int64(5*1024*1024), cfg.Media.MaxImageBytes)
	assert.True(t, cfg.Redis.Enabled)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("APP_PORT", "9999")
	t.Setenv("QUEUE_MAX_RETRIES", "3")
	t.Setenv("WHATSAPP_APP_SECRET", "shh")
	t.Setenv("REDIS_ENABLED", "false")
	t.Setenv("WEBHOOK_SUBMIT_TIMEOUT_MS", "250")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.App.Port)
	assert.Equal(t, 3, cfg.Queue.MaxRetries)
	assert.Equal(t, "shh", cfg.WhatsApp.AppSecret)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 250*time.Millisecond, cfg.Webhook.SubmitTimeout())
}

func TestLoadRejectsInvalidWindow(t *testing.T) {
	t.Setenv("CONVERSATION_WINDOW_HOURS", "0")

	_, err := Load()
	require.Error(t, err)
}
