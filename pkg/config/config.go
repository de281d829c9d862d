// Package config loads and validates the orderpull configuration file.
// Every tunable the pool, pipeline, and orchestrator consume lives here;
// zero values are filled from defaults so a partial file is valid.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults mirror the tuning the extraction flow was built against.
const (
	DefaultPoolMaxSize          = 3
	DefaultIdleTimeoutSeconds   = 300
	DefaultSweepIntervalSeconds = 60
	DefaultFetchTimeoutSeconds  = 30
	DefaultMaxConcurrency       = 5
	DefaultBatchSize            = 10
	DefaultBatchDelaySeconds    = 2.0

	DefaultCookieDomain = ".goofish.com"
	DefaultBaseURL      = "https://www.goofish.com"
	DefaultUserAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36"
)

// Config is the full configuration document.
type Config struct {
	Pool    PoolConfig    `yaml:"pool"`
	Fetch   FetchConfig   `yaml:"fetch"`
	Browser BrowserConfig `yaml:"browser"`
	Cache   CacheConfig   `yaml:"cache"`

	// Accounts maps storefront identities to their raw cookie strings.
	Accounts []Account `yaml:"accounts"`
}

// PoolConfig tunes the browser session pool.
type PoolConfig struct {
	MaxSize              int `yaml:"max_size"`
	IdleTimeoutSeconds   int `yaml:"idle_timeout_seconds"`
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
}

// IdleTimeout returns the idle threshold as a duration.
func (p PoolConfig) IdleTimeout() time.Duration {
	return time.Duration(p.IdleTimeoutSeconds) * time.Second
}

// SweepInterval returns the sweep cadence as a duration.
func (p PoolConfig) SweepInterval() time.Duration {
	return time.Duration(p.SweepIntervalSeconds) * time.Second
}

// FetchConfig tunes the orchestrator.
type FetchConfig struct {
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
	MaxConcurrency    int     `yaml:"max_concurrency"`
	BatchSize         int     `yaml:"batch_size"`
	BatchDelaySeconds float64 `yaml:"batch_delay_seconds"`

	// NavPerSecond optionally rate-limits page navigations per identity.
	// Zero disables pacing.
	NavPerSecond float64 `yaml:"nav_per_second"`
	NavBurst     int     `yaml:"nav_burst"`
}

// Timeout returns the per-fetch timeout as a duration.
func (f FetchConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSeconds) * time.Second
}

// BatchDelay returns the inter-batch delay as a duration.
func (f FetchConfig) BatchDelay() time.Duration {
	return time.Duration(f.BatchDelaySeconds * float64(time.Second))
}

// BrowserConfig tunes session creation and page scraping.
type BrowserConfig struct {
	Headless     bool      `yaml:"headless"`
	CookieDomain string    `yaml:"cookie_domain"`
	BaseURL      string    `yaml:"base_url"`
	UserAgent    string    `yaml:"user_agent"`
	Selectors    Selectors `yaml:"selectors"`
}

// Selectors are the CSS hooks into the rendered order-detail page. The
// storefront ships hashed CSS-module class names, so they are configurable
// for when a frontend deploy rotates them.
type Selectors struct {
	Amount       string `yaml:"amount"`
	SKU          string `yaml:"sku"`
	AddressValue string `yaml:"address_value"`
}

// CacheConfig locates the order cache database.
type CacheConfig struct {
	Path string `yaml:"path"`
}

// Account binds an identity key to its authenticated cookie string.
type Account struct {
	Identity string `yaml:"identity"`
	Cookie   string `yaml:"cookie"`
}

// Default returns a configuration populated with defaults.
func Default() *Config {
	return &Config{
		Pool: PoolConfig{
			MaxSize:              DefaultPoolMaxSize,
			IdleTimeoutSeconds:   DefaultIdleTimeoutSeconds,
			SweepIntervalSeconds: DefaultSweepIntervalSeconds,
		},
		Fetch: FetchConfig{
			TimeoutSeconds:    DefaultFetchTimeoutSeconds,
			MaxConcurrency:    DefaultMaxConcurrency,
			BatchSize:         DefaultBatchSize,
			BatchDelaySeconds: DefaultBatchDelaySeconds,
		},
		Browser: BrowserConfig{
			Headless:     true,
			CookieDomain: DefaultCookieDomain,
			BaseURL:      DefaultBaseURL,
			UserAgent:    DefaultUserAgent,
			Selectors: Selectors{
				Amount:       `[class^="boldNum--"]`,
				SKU:          `[class^="sku--"]`,
				AddressValue: `[class*="textItemValue"]`,
			},
		},
		Cache: CacheConfig{
			Path: defaultCachePath(),
		},
	}
}

// defaultCachePath puts the order database next to the log directory.
func defaultCachePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "orders.db"
	}
	return filepath.Join(home, ".orderpull", "orders.db")
}

// Load reads a YAML config file, overlaying it on the defaults.
// A missing path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that numeric tunables make sense.
func (c *Config) Validate() error {
	if c.Pool.MaxSize <= 0 {
		return fmt.Errorf("pool.max_size must be positive, got %d", c.Pool.MaxSize)
	}
	if c.Pool.IdleTimeoutSeconds <= 0 {
		return fmt.Errorf("pool.idle_timeout_seconds must be positive, got %d", c.Pool.IdleTimeoutSeconds)
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be positive, got %d", c.Fetch.TimeoutSeconds)
	}
	if c.Fetch.MaxConcurrency <= 0 {
		return fmt.Errorf("fetch.max_concurrency must be positive, got %d", c.Fetch.MaxConcurrency)
	}
	if c.Fetch.BatchSize <= 0 {
		return fmt.Errorf("fetch.batch_size must be positive, got %d", c.Fetch.BatchSize)
	}
	if c.Fetch.BatchDelaySeconds < 0 {
		return fmt.Errorf("fetch.batch_delay_seconds must not be negative, got %v", c.Fetch.BatchDelaySeconds)
	}
	return nil
}

// CookieFor returns the cookie string for an identity, if configured.
func (c *Config) CookieFor(identity string) (string, bool) {
	for _, a := range c.Accounts {
		if a.Identity == identity {
			return a.Cookie, true
		}
	}
	return "", false
}
