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
	t.Setenv("ASSOC_ENV", "test")
	cfg := Load()

	assert.Equal(t, "test", cfg.Env)
	assert.Equal(t, ":8787", cfg.Addr)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Equal(t, 15*time.Minute, cfg.AccessTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.RefreshTTL)
	assert.Empty(t, cfg.ActivityNotifyTo)
	assert.Equal(t, 20, cfg.DBMaxOpenConns)
	assert.Equal(t, 30*time.Second, cfg.DBWaitTimeout)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ASSOC_ENV", "test")
	t.Setenv("ASSOC_ADDR", ":9000")
	t.Setenv("ASSOC_DATABASE_URL", "postgres://db/assoc")
	t.Setenv("ASSOC_ACCESS_TTL", "5m")
	t.Setenv("ASSOC_DB_MAX_OPEN_CONNS", "4")
	t.Setenv("ASSOC_ACTIVITY_NOTIFY_TO", "board@example.org, pr@example.org,")
	t.Setenv("ASSOC_PUBLIC_BASE_URL", "https://example.org/")

	cfg := Load()
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, "postgres://db/assoc", cfg.DatabaseURL)
	assert.Equal(t, 5*time.Minute, cfg.AccessTTL)
	assert.Equal(t, 4, cfg.DBMaxOpenConns)
	assert.Equal(t, []string{"board@example.org", "pr@example.org"}, cfg.ActivityNotifyTo)
	assert.Equal(t, "https://example.org", cfg.PublicBaseURL)
}

func TestLoadReadsDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.dotenvtest"), []byte("ASSOC_SMTP_HOST=mail.example.org\n"), 0o644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	t.Setenv("ASSOC_ENV", "dotenvtest")
	// Registered so the variable set by godotenv is cleared after the test.
	t.Setenv("ASSOC_SMTP_HOST", "")
	require.NoError(t, os.Unsetenv("ASSOC_SMTP_HOST"))

	cfg := Load()
	assert.Equal(t, "mail.example.org", cfg.SMTPHost)
}
