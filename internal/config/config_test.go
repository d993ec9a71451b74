package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7071", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, filepath.Join(home, ".claude"), cfg.StateDir)
	assert.Equal(t, filepath.Join(home, ".claude", "logs"), cfg.LogDir)
	assert.Equal(t, runtime.GOOS, cfg.Platform)
	assert.Equal(t, "claude", cfg.ClaudeBin)
	assert.Equal(t, 50, cfg.Retention)
	assert.Equal(t, 5*time.Second, cfg.ShutdownGrace)
}

func TestFromEnvOverrides(t *testing.T) {
	state := t.TempDir()
	t.Setenv("CLAUDESCHED_STATE_DIR", state)
	t.Setenv("CLAUDESCHED_LOG_LEVEL", "debug")
	t.Setenv("CLAUDESCHED_PLATFORM", "windows")
	t.Setenv("CLAUDESCHED_RETENTION", "7")
	t.Setenv("CLAUDESCHED_SHUTDOWN_GRACE", "2s")
	t.Setenv("CLAUDESCHED_BARK_ENABLED", "yes")
	t.Setenv("CLAUDESCHED_BARK_URL", "https://api.day.app/key")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, state, cfg.StateDir)
	assert.Equal(t, filepath.Join(state, "logs"), cfg.LogDir)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "windows", cfg.Platform)
	assert.Equal(t, 7, cfg.Retention)
	assert.Equal(t, 2*time.Second, cfg.ShutdownGrace)
	assert.True(t, cfg.Notification.Bark.Enabled)
}

func TestBarkEnabledRequiresURL(t *testing.T) {
	t.Setenv("CLAUDESCHED_STATE_DIR", t.TempDir())
	t.Setenv("CLAUDESCHED_BARK_ENABLED", "true")
	_, err := FromEnv()
	assert.ErrorContains(t, err, "BARK_URL")
}

func TestApplyFlagsMoveDefaultLogDir(t *testing.T) {
	t.Setenv("CLAUDESCHED_STATE_DIR", t.TempDir())
	cfg, err := FromEnv()
	require.NoError(t, err)

	other := t.TempDir()
	require.NoError(t, cfg.Apply(Overrides{StateDir: other, LogLevel: "warn", Platform: "darwin"}))
	assert.Equal(t, other, cfg.StateDir)
	assert.Equal(t, filepath.Join(other, "logs"), cfg.LogDir)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "darwin", cfg.Platform)

	require.NoError(t, cfg.Apply(Overrides{LogDir: "/var/log/claudesched"}))
	assert.Equal(t, "/var/log/claudesched", cfg.LogDir)
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	state := filepath.Join(dir, "state")
	require.NoError(t, os.WriteFile(".env", []byte("CLAUDESCHED_STATE_DIR="+state+"\nCLAUDESCHED_CLAUDE_BIN=/opt/claude\n"), 0o600))
	t.Setenv("CLAUDESCHED_CLAUDE_BIN", "/usr/bin/claude")
	// Unset so the .env value is used; t.Setenv restores it afterwards.
	t.Setenv("CLAUDESCHED_STATE_DIR", "")
	require.NoError(t, os.Unsetenv("CLAUDESCHED_STATE_DIR"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, state, cfg.StateDir)
	assert.Equal(t, "/usr/bin/claude", cfg.ClaudeBin)
}
