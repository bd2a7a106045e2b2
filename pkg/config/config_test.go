package config

import (
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(dir, "state"))
	return dir
}

func TestLoadDefaults(t *testing.T) {
	dir := isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel())
	assert.False(t, cfg.Log.JSON)
	assert.False(t, cfg.Debug)
	assert.Equal(t, ".", cfg.WorkDir)
	assert.Equal(t, "https://aur.archlinux.org", cfg.Connection.URL)
	assert.Equal(t, 3*time.Second, cfg.Connection.Timeout)
	assert.Equal(t, filepath.Join(dir, "state", "ass", "stamps.json"), cfg.StateFile)
}

func TestLoadFile(t *testing.T) {
	dir := isolate(t)
	file := filepath.Join(dir, "ass.toml")
	require.NoError(t, ioutil.WriteFile(file, []byte(`
[log]
level = "warn"

[connection]
timeout = "10s"
`), 0644))

	cfg, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, zerolog.WarnLevel, cfg.LogLevel())
	assert.Equal(t, 10*time.Second, cfg.Connection.Timeout)
}

func TestLoadMissingFile(t *testing.T) {
	dir := isolate(t)

	_, err := Load(filepath.Join(dir, "nope.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to read config file")
}

func TestLoadEnv(t *testing.T) {
	isolate(t)
	t.Setenv("ASS_LOG_LEVEL", "debug")
	t.Setenv("ASS_CONNECTION_TIMEOUT", "1s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel())
	assert.Equal(t, time.Second, cfg.Connection.Timeout)
}

func TestLoadDebugEnv(t *testing.T) {
	isolate(t)
	t.Setenv("ASS_DEBUG", "1")
	t.Setenv("ASS_SOMETHING_ELSE", "x")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Debug)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{WorkDir: "."}
		cfg.Log.Level = "info"
		cfg.Connection.URL = "https://aur.archlinux.org"
		cfg.Connection.Timeout = time.Second
		return cfg
	}

	require.NoError(t, valid().Validate())

	cfg := valid()
	cfg.Log.Level = "loud"
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Connection.Timeout = 0
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Connection.URL = "ftp://example.com"
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.WorkDir = ""
	assert.Error(t, cfg.Validate())
}
