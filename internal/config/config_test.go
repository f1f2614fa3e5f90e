package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/confscout/go-client/internal/config"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	require.Equal(t, "https://api.confscout.io", cfg.BaseURL)
	require.Equal(t, "https://api.confscout.io/notifications/stream", cfg.StreamURL)
	require.Equal(t, 15*time.Second, cfg.HTTPTimeout)
	require.Equal(t, 10*time.Second, cfg.VerifyTimeout)
	require.Equal(t, 20, cfg.PageSize)
	require.True(t, cfg.CacheEnabled)
}

func TestLoadReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := "base_url: https://staging.confscout.io\npage_size: 50\ncache_enabled: false\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	require.Equal(t, "https://staging.confscout.io", cfg.BaseURL)
	require.Equal(t, "https://staging.confscout.io/notifications/stream", cfg.StreamURL)
	require.Equal(t, 50, cfg.PageSize)
	require.False(t, cfg.CacheEnabled)
}

func TestLoadStreamURLOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := "base_url: https://api.confscout.io\nstream_url: wss://push.confscout.io/stream\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "wss://push.confscout.io/stream", cfg.StreamURL)
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("CONFSCOUT_BASE_URL", "https://env.confscout.io")

	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, "https://env.confscout.io", cfg.BaseURL)
}
