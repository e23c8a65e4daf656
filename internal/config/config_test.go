package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "TYPHON_DB", "AITYPHON_MODEL", "GOOGLE_SPREADSHEET_ID", "CHAT_SHEET_NAME", "CHAT_SHEET3_NAME"} {
		t.Setenv(key, "")
	}
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.BasicConfig.ServerAddress)
	assert.Equal(t, "sqlite3", cfg.BasicConfig.DBType)
	assert.Equal(t, DefaultModel, cfg.Typhon.Model)
	assert.Equal(t, []string{"/v1/chat/completions", "/chat/completions"}, cfg.Typhon.Paths)
	assert.Equal(t, "Chats", cfg.Sheets.ChatSheet)
	assert.Equal(t, "Sheet3", cfg.Sheets.PairSheet)
	assert.Equal(t, DefaultMaxMessages, cfg.Session.MaxMessages)
	assert.False(t, cfg.SheetsEnabled())
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{"basic_config":{"server_address":":9000"},"typhon":{"model":"file-model","base_url":"http://file"}}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("AITYPHON_MODEL", "env-model")
	t.Setenv("ALLOW_ORIGINS", "http://a.test, http://b.test,")
	t.Setenv("GOOGLE_SPREADSHEET_ID", "sheet-1")
	t.Setenv("REDIS_ADDR", "10.0.0.1:6380")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.BasicConfig.ServerAddress)
	assert.Equal(t, "env-model", cfg.Typhon.Model)
	assert.Equal(t, "http://file", cfg.Typhon.BaseURL)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.BasicConfig.AllowOrigins)
	assert.True(t, cfg.SheetsEnabled())
	assert.Equal(t, "10.0.0.1", cfg.Redis.Host)
	assert.Equal(t, 6380, cfg.Redis.Port)
	assert.Equal(t, filepath.Join(dir, "data/relay.db"), cfg.Databases["sqlite3"].DSN)
}

func TestLoadPlayers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"players":[{"id":"7","name":"Alice","pin":"123456"}]}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []PlayerConfig{{ID: "7", Name: "Alice", PIN: "123456"}}, cfg.Players)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("TYPHON_DB", "postgres")
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}

func TestLoadEnvFileMissingIsTolerated(t *testing.T) {
	require.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), ".env")))
}
