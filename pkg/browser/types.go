package browser

import (
	"strings"
	"time"
)

// Cookie is one name/value pair parsed from a raw cookie string.
type Cookie struct {
	Name  string
	Value string
}

// ParseCookieString splits a raw "name=value; name=value" cookie string into
// discrete pairs. Fragments without an "=" are skipped; only the first "=" in
// a fragment separates name from value.
func ParseCookieString(raw string) []Cookie {
	var cookies []Cookie
	for _, pair := range strings.Split(raw, ";") {
		pair = strings.TrimSpace(pair)
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		cookies = append(cookies, Cookie{
			Name:  strings.TrimSpace(name),
			Value: strings.TrimSpace(value),
		})
	}
	return cookies
}

// SessionConfig configures new browser sessions created by a Driver.
type SessionConfig struct {
	// Headless controls whether the browser runs without a visible window.
	Headless bool

	// CookieDomain is the domain cookies are bound to when installed.
	CookieDomain string

	// UserAgent overrides the browser's user agent string.
	UserAgent string

	// ViewportWidth and ViewportHeight set the page viewport.
	ViewportWidth  int
	ViewportHeight int
}

// Session represents one live browser-controlled context bound to a single
// account identity. The pool exclusively owns the underlying engine handles
// until the session is torn down.
type Session struct {
	// Identity is the account identity key this session is bound to.
	Identity string

	// Engine is the live browser stack behind this session.
	Engine Engine

	// CreatedAt is the timestamp when the session was created.
	CreatedAt time.Time

	// lastUsed, leases, and doomed are guarded by the owning pool's mutex.
	lastUsed time.Time
	leases   int
	doomed   bool
}

// SessionStatus is a read-only snapshot of one pooled session.
type SessionStatus struct {
	Identity  string        `json:"identity"`
	Connected bool          `json:"connected"`
	IdleFor   time.Duration `json:"idle_for"`
	Leases    int           `json:"leases"`
}

// PoolStatus is a read-only snapshot of the pool.
type PoolStatus struct {
	Total    int             `json:"total"`
	MaxSize  int             `json:"max_size"`
	Sessions []SessionStatus `json:"sessions"`
}

// Default session parameters, matching the environment the storefront's
// frontend is served to.
const (
	DefaultViewportWidth  = 1920
	DefaultViewportHeight = 1080
	DefaultMaxSize        = 3
	DefaultIdleTimeout    = 5 * time.Minute
)
