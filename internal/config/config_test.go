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
	for _, key := range []string{"APP_PORT", "CRON_SPEC", "LOG_LEVEL", "SOURCE_LOCK_TTL", "RUN_ON_START", "CRON_SECRET"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	cfg, err := LoadFiles()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.AppPort)
	assert.Equal(t, "*/30 * * * *", cfg.CronSpec)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10*time.Minute, cfg.SourceLockTTL)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.True(t, cfg.RunOnStart)
	assert.Empty(t, cfg.CronSecret)
}

func TestLoadReadsAuthAndPorts(t *testing.T) {
	t.Setenv("APP_PORT", "1234")
	t.Setenv("APP_BASIC_USER", "user")
	t.Setenv("APP_BASIC_PASS", "pass")
	t.Setenv("SOURCE_LOCK_TTL", "90s")
	t.Setenv("RUN_ON_START", "false")

	cfg, err := LoadFiles()
	require.NoError(t, err)

	assert.Equal(t, "1234", cfg.AppPort)
	assert.Equal(t, "user", cfg.BasicAuthUser)
	assert.Equal(t, "pass", cfg.BasicAuthPass)
	assert.True(t, cfg.BasicAuthEnabled())
	assert.Equal(t, 90*time.Second, cfg.SourceLockTTL)
	assert.False(t, cfg.RunOnStart)
}

func TestLoadHCLFile(t *testing.T) {
	require.NoError(t, os.Unsetenv("CRON_SPEC"))
	require.NoError(t, os.Unsetenv("CRON_SECRET"))

	path := filepath.Join(t.TempDir(), "config.hcl")
	content := "cron_spec = \"@every 5m\"\ncron_secret = \"s3cret\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadFiles(path)
	require.NoError(t, err)
	assert.Equal(t, "@every 5m", cfg.CronSpec)
	assert.Equal(t, "s3cret", cfg.CronSecret)
}

func TestBasicAuthDisabledWithoutPassword(t *testing.T) {
	cfg := &Config{BasicAuthUser: "user"}
	assert.False(t, cfg.BasicAuthEnabled())
}
