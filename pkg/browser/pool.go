// Package browser manages a pool of authenticated browser sessions keyed by
// account identity. Sessions are created lazily, reused while live, evicted
// least-recently-used when the pool is full, and reclaimed when idle.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/orderpull/pkg/logging"
)

// Config configures a Pool.
type Config struct {
	// MaxSize is the maximum number of concurrent sessions.
	MaxSize int

	// IdleTimeout is the default threshold used by RunSweeper.
	IdleTimeout time.Duration

	// Session configures how new sessions are created.
	Session SessionConfig

	// Driver creates session engines. Defaults to the Playwright driver.
	Driver Driver

	// Logger receives pool events. Defaults to a component logger.
	Logger *logging.Logger
}

// Pool owns zero or more automation sessions keyed by account identity.
//
// A single mutex protects the key→session mapping during bookkeeping; it is
// never held across slow session creation. Per-identity locks serialize
// creation so concurrent acquisitions for one identity never both launch a
// browser.
type Pool struct {
	mu       sync.Mutex
	sessions map[string]*Session
	locks    map[string]*sync.Mutex
	creating int // sessions being created, counted against capacity

	maxSize     int
	idleTimeout time.Duration
	session     SessionConfig
	driver      Driver
	log         *logging.Logger
}

// NewPool creates a session pool. Missing config fields get defaults.
func NewPool(cfg Config) *Pool {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger, _ = logging.NewLogger("browser-pool")
	}
	if cfg.Driver == nil {
		cfg.Driver = NewPlaywrightDriver(cfg.Logger)
	}

	p := &Pool{
		sessions:    make(map[string]*Session),
		locks:       make(map[string]*sync.Mutex),
		maxSize:     cfg.MaxSize,
		idleTimeout: cfg.IdleTimeout,
		session:     cfg.Session,
		driver:      cfg.Driver,
		log:         cfg.Logger,
	}
	p.log.Infof("session pool ready, max size %d, idle timeout %s", p.maxSize, p.idleTimeout)
	return p
}

// AcquireOptions controls how a session is handed out.
type AcquireOptions struct {
	// SharedPage reuses the session's long-lived page instead of opening a
	// dedicated one. Concurrent operations on a shared page race on
	// navigation, so this is only safe for serialized callers.
	SharedPage bool
}

// Lease is one caller's hold on a pooled session. The session is not evicted
// or swept while any lease on it is open. Close always releases the hold and
// closes the page when it was dedicated to this lease.
type Lease struct {
	Session *Session
	Page    playwright.Page

	pool    *Pool
	ownPage bool
	once    sync.Once
}

// Close releases the lease. Safe to call multiple times, and a no-op for
// leases not issued by a pool (e.g. test stubs).
func (l *Lease) Close() {
	l.once.Do(func() {
		if l.pool == nil {
			return
		}
		if l.ownPage && l.Page != nil {
			if err := l.Page.Close(); err != nil {
				l.pool.log.Debugf("failed to close lease page for %s: %v", l.Session.Identity, err)
			}
		}
		l.pool.release(l.Session)
	})
}

// Acquire returns a session bound to identity, creating one if no live
// session exists. A live session is verified (connected, at least one open
// page) before reuse; a failed check tears it down and creates a fresh one.
// On creation failure the pool is left unchanged.
func (p *Pool) Acquire(ctx context.Context, identity, cookieString string, opts AcquireOptions) (*Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Serialize per identity so a second caller observes the first caller's
	// finished session instead of racing it into creation.
	il := p.identityLock(identity)
	il.Lock()
	defer il.Unlock()

	if lease, ok := p.tryReuse(identity, opts); ok {
		return lease, nil
	}

	if err := p.reserveSlot(); err != nil {
		return nil, err
	}

	p.log.Infof("creating session for %s", identity)
	eng, err := p.driver.Start(identity, cookieString, p.session)
	if err != nil {
		p.releaseSlot()
		return nil, fmt.Errorf("session creation failed for %q: %w", identity, err)
	}

	page, err := eng.Page()
	if err != nil {
		eng.Close()
		p.releaseSlot()
		return nil, fmt.Errorf("session creation failed for %q: %w", identity, err)
	}

	now := time.Now()
	s := &Session{
		Identity:  identity,
		Engine:    eng,
		CreatedAt: now,
		lastUsed:  now,
		leases:    1,
	}

	p.mu.Lock()
	p.sessions[identity] = s
	p.creating--
	p.mu.Unlock()

	return &Lease{Session: s, Page: page, pool: p, ownPage: false}, nil
}

// tryReuse hands out the existing session for identity if it is still
// usable. An unusable session is retired so the caller creates a new one.
func (p *Pool) tryReuse(identity string, opts AcquireOptions) (*Lease, bool) {
	p.mu.Lock()
	s, ok := p.sessions[identity]
	if !ok {
		p.mu.Unlock()
		return nil, false
	}

	if !s.Engine.Connected() || s.Engine.PageCount() == 0 {
		p.log.Warnf("session for %s is no longer usable, recreating", identity)
		closeNow := p.retireLocked(s)
		p.mu.Unlock()
		if closeNow {
			s.Engine.Close()
		}
		return nil, false
	}

	s.lastUsed = time.Now()
	s.leases++
	p.mu.Unlock()

	var (
		page playwright.Page
		err  error
	)
	own := !opts.SharedPage
	if own {
		page, err = s.Engine.NewPage()
	} else {
		page, err = s.Engine.Page()
	}
	if err != nil {
		p.log.Warnf("pooled session for %s cannot open a page: %v, recreating", identity, err)
		p.mu.Lock()
		s.leases--
		closeNow := p.retireLocked(s)
		p.mu.Unlock()
		if closeNow {
			s.Engine.Close()
		}
		return nil, false
	}

	p.log.Debugf("reusing session for %s", identity)
	return &Lease{Session: s, Page: page, pool: p, ownPage: own}, true
}

// reserveSlot makes room for one new session, evicting least-recently-used
// sessions as needed, and counts the upcoming creation against capacity so
// concurrent creations for different identities cannot overshoot the limit.
// Sessions with open leases are never evicted; if held sessions and pending
// creations fill the pool the acquisition fails rather than exceeding
// capacity. Eviction completes before creation begins.
func (p *Pool) reserveSlot() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.sessions)+p.creating >= p.maxSize {
		var oldest *Session
		for _, s := range p.sessions {
			if s.leases > 0 {
				continue
			}
			if oldest == nil || s.lastUsed.Before(oldest.lastUsed) {
				oldest = s
			}
		}
		if oldest == nil {
			return fmt.Errorf("pool at capacity (%d) with every session in use", p.maxSize)
		}

		p.log.Infof("pool at capacity, evicting least-recently-used session %s", oldest.Identity)
		delete(p.sessions, oldest.Identity)
		oldest.Engine.Close()
	}

	p.creating++
	return nil
}

// releaseSlot undoes a reservation after a failed creation.
func (p *Pool) releaseSlot() {
	p.mu.Lock()
	p.creating--
	p.mu.Unlock()
}

// retireLocked removes a session from the map and marks it for teardown.
// It reports whether the caller should close the engine now (no open
// leases); otherwise the last release closes it. Caller holds p.mu.
func (p *Pool) retireLocked(s *Session) bool {
	delete(p.sessions, s.Identity)
	s.doomed = true
	return s.leases == 0
}

// release returns a lease's hold on its session.
func (p *Pool) release(s *Session) {
	p.mu.Lock()
	s.leases--
	closeNow := s.doomed && s.leases == 0
	p.mu.Unlock()

	if closeNow {
		s.Engine.Close()
	}
}

// Close tears down and removes the session for one identity. Best-effort;
// teardown failures are logged, never returned. A held session is closed
// when its last lease is released.
func (p *Pool) Close(identity string) {
	p.mu.Lock()
	s, ok := p.sessions[identity]
	var closeNow bool
	if ok {
		delete(p.sessions, identity)
		s.doomed = true
		closeNow = s.leases == 0
	}
	p.mu.Unlock()

	if closeNow {
		p.log.Infof("closed session for %s", identity)
		s.Engine.Close()
	}
}

// CloseAll tears down every pooled session.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	var victims []*Session
	for id, s := range p.sessions {
		delete(p.sessions, id)
		s.doomed = true
		if s.leases == 0 {
			victims = append(victims, s)
		}
	}
	p.mu.Unlock()

	for _, s := range victims {
		s.Engine.Close()
	}
	p.log.Infof("all sessions closed")
}

// SweepIdle closes every unheld session whose last-used age exceeds
// threshold, returning the number closed.
func (p *Pool) SweepIdle(threshold time.Duration) int {
	now := time.Now()

	p.mu.Lock()
	var victims []*Session
	for id, s := range p.sessions {
		if s.leases == 0 && now.Sub(s.lastUsed) > threshold {
			delete(p.sessions, id)
			victims = append(victims, s)
		}
	}
	p.mu.Unlock()

	for _, s := range victims {
		p.log.Infof("closing idle session %s (idle %s)", s.Identity, now.Sub(s.lastUsed).Round(time.Second))
		s.Engine.Close()
	}
	return len(victims)
}

// RunSweeper periodically sweeps idle sessions until ctx is cancelled.
func (p *Pool) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.SweepIdle(p.idleTimeout)
		}
	}
}

// Status returns a snapshot of the pool for observability.
func (p *Pool) Status() PoolStatus {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	status := PoolStatus{
		Total:    len(p.sessions),
		MaxSize:  p.maxSize,
		Sessions: make([]SessionStatus, 0, len(p.sessions)),
	}
	for _, s := range p.sessions {
		status.Sessions = append(status.Sessions, SessionStatus{
			Identity:  s.Identity,
			Connected: s.Engine.Connected(),
			IdleFor:   now.Sub(s.lastUsed),
			Leases:    s.leases,
		})
	}
	return status
}

func (p *Pool) identityLock(identity string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.locks[identity]
	if !ok {
		l = &sync.Mutex{}
		p.locks[identity] = l
	}
	return l
}
