package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.HTTP.Port)
	require.Equal(t, 5*time.Second, cfg.Inbox.PollInterval)
	require.Equal(t, 100, cfg.Worker.BatchSize)
	require.Empty(t, cfg.Provider.APIKey)
	require.Equal(t, "America/New_York", cfg.Calendar.Location().String())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SHOPSENSE_WORKER_CONCURRENCY", "4")
	t.Setenv("SHOPSENSE_INBOX_POLL_INTERVAL", "2s")
	t.Setenv("API_BASE_URL", "https://shop.example.com")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/x")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 4, cfg.Worker.Concurrency)
	require.Equal(t, 2*time.Second, cfg.Inbox.PollInterval)
	require.Equal(t, "https://shop.example.com", cfg.Inbox.APIBaseURL)
	require.Equal(t, "postgres://u:p@db:5432/x", cfg.Database.URL)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "shop.yaml")
	require.NoError(t, os.WriteFile(path, []byte("calendar:\n  timezone: Europe/Berlin\nlog:\n  level: debug\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "Europe/Berlin", cfg.Calendar.TimeZone)
	require.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_Invalid(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SHOPSENSE_PROVIDER_API_KEY", "secret")

	_, err := Load("")
	require.ErrorIs(t, err, ErrConfiguration)
}
