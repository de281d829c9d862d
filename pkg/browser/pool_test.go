package browser

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEngine struct {
	mu        sync.Mutex
	connected bool
	pages     int
	closed    bool
	newPages  int
}

func (e *stubEngine) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

func (e *stubEngine) PageCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pages
}

func (e *stubEngine) Page() (playwright.Page, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pages == 0 {
		return nil, errors.New("no pages")
	}
	return nil, nil
}

func (e *stubEngine) NewPage() (playwright.Page, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.newPages++
	return nil, nil
}

func (e *stubEngine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.connected = false
}

func (e *stubEngine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *stubEngine) disconnect() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected = false
}

type stubDriver struct {
	mu      sync.Mutex
	starts  int
	delay   time.Duration
	failing bool
	engines map[string]*stubEngine
}

func newStubDriver() *stubDriver {
	return &stubDriver{engines: make(map[string]*stubEngine)}
}

func (d *stubDriver) Start(identity, cookieString string, cfg SessionConfig) (Engine, error) {
	d.mu.Lock()
	d.starts++
	failing := d.failing
	delay := d.delay
	d.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if failing {
		return nil, errors.New("launch failed")
	}

	e := &stubEngine{connected: true, pages: 1}
	d.mu.Lock()
	d.engines[identity] = e
	d.mu.Unlock()
	return e, nil
}

func (d *stubDriver) startCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.starts
}

func newTestPool(t *testing.T, driver Driver, maxSize int) *Pool {
	t.Helper()
	return NewPool(Config{
		MaxSize: maxSize,
		Driver:  driver,
	})
}

func TestConcurrentAcquireCreatesOneSession(t *testing.T) {
	driver := newStubDriver()
	driver.delay = 30 * time.Millisecond
	pool := newTestPool(t, driver, 3)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := pool.Acquire(ctx, "shop-a", "c=1", AcquireOptions{})
			assert.NoError(t, err)
			if lease != nil {
				lease.Close()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, driver.startCount())
	assert.Equal(t, 1, pool.Status().Total)
}

func TestAcquireReusesLiveSession(t *testing.T) {
	driver := newStubDriver()
	pool := newTestPool(t, driver, 3)
	ctx := context.Background()

	first, err := pool.Acquire(ctx, "shop-a", "c=1", AcquireOptions{})
	require.NoError(t, err)
	first.Close()

	second, err := pool.Acquire(ctx, "shop-a", "c=1", AcquireOptions{})
	require.NoError(t, err)
	second.Close()

	assert.Equal(t, 1, driver.startCount())
	// Reuse opened a dedicated page for the second caller.
	assert.Equal(t, 1, driver.engines["shop-a"].newPages)
}

func TestAcquireRecreatesDisconnectedSession(t *testing.T) {
	driver := newStubDriver()
	pool := newTestPool(t, driver, 3)
	ctx := context.Background()

	lease, err := pool.Acquire(ctx, "shop-a", "c=1", AcquireOptions{})
	require.NoError(t, err)
	lease.Close()

	stale := driver.engines["shop-a"]
	stale.disconnect()

	lease, err = pool.Acquire(ctx, "shop-a", "c=1", AcquireOptions{})
	require.NoError(t, err)
	lease.Close()

	assert.Equal(t, 2, driver.startCount())
	assert.True(t, stale.isClosed())
}

func TestCapacityEvictsLeastRecentlyUsed(t *testing.T) {
	driver := newStubDriver()
	pool := newTestPool(t, driver, 2)
	ctx := context.Background()

	a, err := pool.Acquire(ctx, "shop-a", "c=1", AcquireOptions{})
	require.NoError(t, err)
	a.Close()
	time.Sleep(5 * time.Millisecond)

	b, err := pool.Acquire(ctx, "shop-b", "c=1", AcquireOptions{})
	require.NoError(t, err)
	b.Close()
	time.Sleep(5 * time.Millisecond)

	c, err := pool.Acquire(ctx, "shop-c", "c=1", AcquireOptions{})
	require.NoError(t, err)
	c.Close()

	status := pool.Status()
	assert.Equal(t, 2, status.Total)
	assert.True(t, driver.engines["shop-a"].isClosed(), "oldest session should be evicted")
	assert.False(t, driver.engines["shop-b"].isClosed())
	assert.False(t, driver.engines["shop-c"].isClosed())
}

func TestHeldSessionsAreNeverEvicted(t *testing.T) {
	driver := newStubDriver()
	pool := newTestPool(t, driver, 1)
	ctx := context.Background()

	a, err := pool.Acquire(ctx, "shop-a", "c=1", AcquireOptions{})
	require.NoError(t, err)

	// Pool is full and its only session is held.
	_, err = pool.Acquire(ctx, "shop-b", "c=1", AcquireOptions{})
	assert.Error(t, err)
	assert.False(t, driver.engines["shop-a"].isClosed())

	a.Close()

	b, err := pool.Acquire(ctx, "shop-b", "c=1", AcquireOptions{})
	require.NoError(t, err)
	b.Close()
	assert.True(t, driver.engines["shop-a"].isClosed())
}

func TestAcquireFailureLeavesPoolUnchanged(t *testing.T) {
	driver := newStubDriver()
	driver.failing = true
	pool := newTestPool(t, driver, 3)
	ctx := context.Background()

	_, err := pool.Acquire(ctx, "shop-a", "c=1", AcquireOptions{})
	assert.Error(t, err)
	assert.Equal(t, 0, pool.Status().Total)

	driver.mu.Lock()
	driver.failing = false
	driver.mu.Unlock()

	lease, err := pool.Acquire(ctx, "shop-a", "c=1", AcquireOptions{})
	require.NoError(t, err)
	lease.Close()
	assert.Equal(t, 1, pool.Status().Total)
}

func TestSweepIdleClosesOnlyStaleSessions(t *testing.T) {
	driver := newStubDriver()
	pool := newTestPool(t, driver, 3)
	ctx := context.Background()

	for _, id := range []string{"stale", "recent"} {
		lease, err := pool.Acquire(ctx, id, "c=1", AcquireOptions{})
		require.NoError(t, err)
		lease.Close()
	}

	pool.mu.Lock()
	pool.sessions["stale"].lastUsed = time.Now().Add(-10 * time.Minute)
	pool.mu.Unlock()

	closed := pool.SweepIdle(5 * time.Minute)

	assert.Equal(t, 1, closed)
	assert.True(t, driver.engines["stale"].isClosed())
	assert.False(t, driver.engines["recent"].isClosed())
	assert.Equal(t, 1, pool.Status().Total)
}

func TestSweepIdleSkipsHeldSessions(t *testing.T) {
	driver := newStubDriver()
	pool := newTestPool(t, driver, 3)
	ctx := context.Background()

	lease, err := pool.Acquire(ctx, "shop-a", "c=1", AcquireOptions{})
	require.NoError(t, err)

	pool.mu.Lock()
	pool.sessions["shop-a"].lastUsed = time.Now().Add(-10 * time.Minute)
	pool.mu.Unlock()

	assert.Equal(t, 0, pool.SweepIdle(5*time.Minute))
	lease.Close()
	assert.Equal(t, 1, pool.SweepIdle(5*time.Minute))
}

func TestCloseRemovesSession(t *testing.T) {
	driver := newStubDriver()
	pool := newTestPool(t, driver, 3)
	ctx := context.Background()

	lease, err := pool.Acquire(ctx, "shop-a", "c=1", AcquireOptions{})
	require.NoError(t, err)
	lease.Close()

	pool.Close("shop-a")
	assert.True(t, driver.engines["shop-a"].isClosed())
	assert.Equal(t, 0, pool.Status().Total)

	// Closing an unknown identity is a no-op.
	pool.Close("absent")
}

func TestCloseDefersTeardownWhileHeld(t *testing.T) {
	driver := newStubDriver()
	pool := newTestPool(t, driver, 3)
	ctx := context.Background()

	lease, err := pool.Acquire(ctx, "shop-a", "c=1", AcquireOptions{})
	require.NoError(t, err)

	pool.Close("shop-a")
	assert.False(t, driver.engines["shop-a"].isClosed(), "held session must not be torn down")

	lease.Close()
	assert.True(t, driver.engines["shop-a"].isClosed())
}

func TestStatusSnapshot(t *testing.T) {
	driver := newStubDriver()
	pool := newTestPool(t, driver, 5)
	ctx := context.Background()

	lease, err := pool.Acquire(ctx, "shop-a", "c=1", AcquireOptions{})
	require.NoError(t, err)
	defer lease.Close()

	status := pool.Status()
	assert.Equal(t, 1, status.Total)
	assert.Equal(t, 5, status.MaxSize)
	require.Len(t, status.Sessions, 1)
	assert.Equal(t, "shop-a", status.Sessions[0].Identity)
	assert.True(t, status.Sessions[0].Connected)
	assert.Equal(t, 1, status.Sessions[0].Leases)
}

func TestLeaseCloseIsIdempotent(t *testing.T) {
	driver := newStubDriver()
	pool := newTestPool(t, driver, 3)
	ctx := context.Background()

	lease, err := pool.Acquire(ctx, "shop-a", "c=1", AcquireOptions{})
	require.NoError(t, err)

	lease.Close()
	lease.Close()

	status := pool.Status()
	require.Len(t, status.Sessions, 1)
	assert.Equal(t, 0, status.Sessions[0].Leases)
}

func TestAcquireRespectsCancelledContext(t *testing.T) {
	driver := newStubDriver()
	pool := newTestPool(t, driver, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := pool.Acquire(ctx, "shop-a", "c=1", AcquireOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, driver.startCount())
}

func TestParseCookieString(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []Cookie
	}{
		{
			name: "typical pairs",
			raw:  "unb=123; cookie2=abc; t=def",
			want: []Cookie{{"unb", "123"}, {"cookie2", "abc"}, {"t", "def"}},
		},
		{
			name: "value containing equals",
			raw:  "token=a=b=c",
			want: []Cookie{{"token", "a=b=c"}},
		},
		{
			name: "fragments without separator are skipped",
			raw:  "valid=1; junk; other=2",
			want: []Cookie{{"valid", "1"}, {"other", "2"}},
		},
		{
			name: "empty string",
			raw:  "",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseCookieString(tt.raw))
		})
	}
}
