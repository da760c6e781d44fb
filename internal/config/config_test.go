package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_FileValues(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9000"
storage:
  upload_dir: "/srv/uploads"
  max_upload_bytes: 52428800
telegram:
  chat_id: -100123
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "/srv/uploads", cfg.Storage.UploadDir)
	assert.EqualValues(t, 50*1024*1024, cfg.Storage.MaxUploadBytes)
	assert.EqualValues(t, -100123, cfg.Telegram.ChatID)
	// 未配置的键使用默认值
	assert.Equal(t, "json", cfg.Store.Backend)
	assert.Equal(t, 3, cfg.Relay.MaxAttempts)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "3008", cfg.Server.Port)
	assert.EqualValues(t, 20*1024*1024, cfg.Storage.MaxUploadBytes)
	assert.Equal(t, "data/files.json", cfg.Store.Path)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("TELEDRIVE_TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEDRIVE_SERVER_PORT", "7000")
	path := writeConfig(t, "server:\n  port: \"9000\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "123:abc", cfg.Telegram.BotToken)
	assert.Equal(t, "7000", cfg.Server.Port)
}

func TestLoad_RejectsNonPositiveLimit(t *testing.T) {
	path := writeConfig(t, "storage:\n  max_upload_bytes: 0\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [unterminated\n")
	_, err := Load(path)
	assert.Error(t, err)
}
