package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withFlags points the global flags at test values for the duration of t.
func withFlags(t *testing.T, config, env, level string) {
	t.Helper()
	oldCfg, oldEnv, oldLevel := cfgFile, envFile, logLevel
	cfgFile, envFile, logLevel = config, env, level
	t.Cleanup(func() {
		cfgFile, envFile, logLevel = oldCfg, oldEnv, oldLevel
	})
}

func TestLoadConfig(t *testing.T) {
	t.Run("dotenv values reach the config", func(t *testing.T) {
		dir := t.TempDir()
		env := filepath.Join(dir, ".env")
		require.NoError(t, os.WriteFile(env, []byte("CHAINPILOT_ADMIN_ADDR=127.0.0.1:9999\n"), 0o600))
		t.Cleanup(func() { os.Unsetenv("CHAINPILOT_ADMIN_ADDR") })
		t.Setenv("CHAINPILOT_DATA_DIR", dir)
		withFlags(t, filepath.Join(dir, "missing.json"), env, "")

		cfg, err := loadConfig()
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:9999", cfg.Admin.Addr)
		assert.Equal(t, dir, cfg.DataDir)
	})

	t.Run("missing dotenv is fine", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("CHAINPILOT_DATA_DIR", dir)
		withFlags(t, filepath.Join(dir, "missing.json"), filepath.Join(dir, "nope.env"), "debug")

		cfg, err := loadConfig()
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("pid file follows data dir", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("CHAINPILOT_DATA_DIR", dir)
		withFlags(t, filepath.Join(dir, "missing.json"), "", "")

		assert.Equal(t, filepath.Join(dir, "chainpilot.pid"), getPIDFilePath())
	})
}

func TestCheckCommand(t *testing.T) {
	t.Run("rejects incomplete config", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("CHAINPILOT_DATA_DIR", dir)
		t.Setenv("CHAINPILOT_TELEGRAM_BOT_TOKEN", "")
		withFlags(t, filepath.Join(dir, "missing.json"), "", "")

		cmd := GetRootCmd()
		cmd.SetArgs([]string{"check", "--config", cfgFile, "--env-file", ""})
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})

		err := cmd.Execute()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
	})
}
