package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, DefaultPoolMaxSize, cfg.Pool.MaxSize)
	assert.Equal(t, 5*time.Minute, cfg.Pool.IdleTimeout())
	assert.Equal(t, 30*time.Second, cfg.Fetch.Timeout())
	assert.Equal(t, 2*time.Second, cfg.Fetch.BatchDelay())
	assert.True(t, cfg.Browser.Headless)
	assert.NotEmpty(t, cfg.Browser.Selectors.Amount)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
pool:
  max_size: 7
  idle_timeout_seconds: 120
  sweep_interval_seconds: 30
fetch:
  timeout_seconds: 10
  max_concurrency: 2
  batch_size: 4
  batch_delay_seconds: 0.5
browser:
  headless: false
accounts:
  - identity: shop-a
    cookie: "a=1; b=2"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Pool.MaxSize)
	assert.Equal(t, 2*time.Minute, cfg.Pool.IdleTimeout())
	assert.Equal(t, 10*time.Second, cfg.Fetch.Timeout())
	assert.Equal(t, 500*time.Millisecond, cfg.Fetch.BatchDelay())
	assert.False(t, cfg.Browser.Headless)

	// Unset fields keep defaults.
	assert.Equal(t, DefaultCookieDomain, cfg.Browser.CookieDomain)
	assert.Equal(t, DefaultUserAgent, cfg.Browser.UserAgent)

	cookie, ok := cfg.CookieFor("shop-a")
	assert.True(t, ok)
	assert.Equal(t, "a=1; b=2", cookie)

	_, ok = cfg.CookieFor("shop-b")
	assert.False(t, ok)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pool:\n  max_size: -1\n"), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pool: [unclosed"), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}
