package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValidWithToken(t *testing.T) {
	cfg := Default()
	cfg.Token = "abc123"

	require.NoError(t, cfg.Validate())

	s, err := cfg.Settings()
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, s.BaseURL)
	assert.Equal(t, DefaultStreamURL, s.StreamURL)
	assert.Equal(t, 180*time.Second, s.RefreshInterval)
	assert.Equal(t, 30*time.Second, s.HTTPTimeout)
	assert.Equal(t, 10*time.Second, s.ReconnectDelay)
	assert.Equal(t, 9*time.Second, s.HeartbeatInterval)
}

func TestValidate_RequiresCredentials(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.Validate())

	cfg.Email = "cat@example.com"
	assert.Error(t, cfg.Validate(), "email without password is not enough")

	cfg.Password = "hunter2"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_StreamURLScheme(t *testing.T) {
	cfg := Default()
	cfg.Token = "abc"
	cfg.StreamURL = "https://portal.pettracer.com/sc"

	assert.Error(t, cfg.Validate())
}

func TestValidate_BadDuration(t *testing.T) {
	cfg := Default()
	cfg.Token = "abc"
	cfg.RefreshInterval = "three minutes"

	assert.Error(t, cfg.Validate())
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "collarkit.json")
	content := `{
		"email": "cat@example.com",
		"password": "from-file",
		"refresh_interval": "60s"
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv(EnvPassword, "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "cat@example.com", cfg.Email)
	assert.Equal(t, "from-env", cfg.Password)
	assert.Equal(t, "60s", cfg.RefreshInterval)
	// Defaults survive partial files
	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestSettings_TrimsTrailingSlash(t *testing.T) {
	cfg := Default()
	cfg.Token = "abc"
	cfg.BaseURL = "https://portal.pettracer.com/api/"
	cfg.StreamURL = "wss://portal.pettracer.com/sc/"

	s, err := cfg.Settings()
	require.NoError(t, err)
	assert.Equal(t, "https://portal.pettracer.com/api", s.BaseURL)
	assert.Equal(t, "wss://portal.pettracer.com/sc", s.StreamURL)
}
