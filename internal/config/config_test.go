package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Socket.MaxReconnectAttempts)
	assert.Equal(t, time.Second, cfg.Socket.ReconnectDelay)
	assert.Equal(t, 15*time.Second, cfg.Chat.StaleAfter)
	assert.Equal(t, 2*time.Second, cfg.Chat.TypingTimeout)
	assert.Equal(t, 30*time.Second, cfg.Notifications.PollInterval)
	assert.Equal(t, "file", cfg.Session.Backend)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte("socket:\n  max_reconnect_attempts: 3\nchat:\n  user_id: 42\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))
	t.Setenv("API_BASE_URL", "http://api.test")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Socket.MaxReconnectAttempts)
	assert.Equal(t, 42, cfg.Chat.UserID)
	assert.Equal(t, "http://api.test", cfg.API.BaseURL)
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	t.Setenv("SESSION_BACKEND", "etcd")
	_, err := Load(t.TempDir())
	require.Error(t, err)
}
