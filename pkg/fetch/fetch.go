// Package fetch orchestrates order extractions: it gates live fetches behind
// a cache-freshness check, guarantees at most one in-flight fetch per order
// id, and runs many fetches concurrently under a bounded-concurrency policy
// with batching and inter-batch pacing.
package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/entrhq/orderpull/pkg/browser"
	"github.com/entrhq/orderpull/pkg/logging"
	"github.com/entrhq/orderpull/pkg/order"
)

// Store is the external order cache. Freshness is validated here, not by
// the store.
type Store interface {
	// Get returns the cached record for an order id, if any.
	Get(ctx context.Context, orderID string) (*order.Record, bool, error)

	// Put persists a freshly fetched record.
	Put(ctx context.Context, record *order.Record) error
}

// SessionSource hands out leased browser sessions. *browser.Pool is the
// production implementation.
type SessionSource interface {
	Acquire(ctx context.Context, identity, cookieString string, opts browser.AcquireOptions) (*browser.Lease, error)
}

// Extractor performs one merged extraction against a leased page.
// *extract.Extractor is the production implementation.
type Extractor interface {
	Extract(ctx context.Context, page playwright.Page, orderID string, timeout time.Duration) (*order.Record, error)
}

// Credentials bind an account identity to its cookie string for the
// duration of a fetch call.
type Credentials struct {
	Identity string
	Cookie   string
}

// BatchResult is one slot of a batch response: either a record or the error
// that order hit. Slots are index-aligned with the requested order ids.
type BatchResult struct {
	OrderID string        `json:"order_id"`
	Record  *order.Record `json:"record,omitempty"`
	Err     error         `json:"-"`
}

// ErrorMessage renders the error for serialization, or "" on success.
func (r BatchResult) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Config configures an Orchestrator.
type Config struct {
	Pool      SessionSource
	Extractor Extractor

	// Store is the external cache. Optional; without one every fetch is
	// live.
	Store Store

	// Timeout bounds one order's navigation and extraction.
	Timeout time.Duration

	// NavPerSecond optionally paces live fetches. Zero disables pacing.
	NavPerSecond float64
	NavBurst     int

	Logger *logging.Logger
}

// Orchestrator coordinates cache checks, session acquisition, and
// extraction for single orders and batches.
type Orchestrator struct {
	pool      SessionSource
	extractor Extractor
	store     Store
	timeout   time.Duration
	limiter   *rate.Limiter
	locks     *keyedLocks
	log       *logging.Logger
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger, _ = logging.NewLogger("fetch")
	}

	var limiter *rate.Limiter
	if cfg.NavPerSecond > 0 {
		burst := cfg.NavBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.NavPerSecond), burst)
	}

	return &Orchestrator{
		pool:      cfg.Pool,
		extractor: cfg.Extractor,
		store:     cfg.Store,
		timeout:   cfg.Timeout,
		limiter:   limiter,
		locks:     newKeyedLocks(),
		log:       cfg.Logger,
	}
}

// FetchOne returns the record for one order, serving it from the cache when
// the stored copy passes the freshness gate and fetching it live otherwise.
//
// The whole cache-check-then-fetch sequence holds the order's lock, so two
// concurrent calls for the same id never both fetch: the second caller
// blocks, then re-evaluates the cache the first caller just populated.
func (o *Orchestrator) FetchOne(ctx context.Context, orderID string, creds Credentials) (*order.Record, error) {
	lock := o.locks.get(orderID)
	lock.Lock()
	defer lock.Unlock()

	if cached, ok := o.fromCache(ctx, orderID); ok {
		return cached, nil
	}

	return o.fetchLive(ctx, orderID, creds)
}

// fromCache returns the cached record when it exists and is fresh. A stale
// or missing record is a control-flow signal to fetch live, never an error.
func (o *Orchestrator) fromCache(ctx context.Context, orderID string) (*order.Record, bool) {
	if o.store == nil {
		return nil, false
	}

	cached, ok, err := o.store.Get(ctx, orderID)
	if err != nil {
		o.log.Warnf("cache lookup for %s failed: %v", orderID, err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	if !cached.Fresh() {
		o.log.Infof("cached record for %s is stale, fetching live", orderID)
		return nil, false
	}

	o.log.Infof("order %s served from cache", orderID)
	served := *cached
	served.FromCache = true
	return &served, true
}

func (o *Orchestrator) fetchLive(ctx context.Context, orderID string, creds Credentials) (*order.Record, error) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	lease, err := o.pool.Acquire(ctx, creds.Identity, creds.Cookie, browser.AcquireOptions{})
	if err != nil {
		return nil, fmt.Errorf("order %s: %w", orderID, err)
	}
	defer lease.Close()

	record, err := o.extractor.Extract(ctx, lease.Page, orderID, o.timeout)
	if err != nil {
		return nil, err
	}

	if o.store != nil {
		if err := o.store.Put(ctx, record); err != nil {
			o.log.Warnf("failed to persist order %s: %v", orderID, err)
		}
	}
	return record, nil
}

// FetchBatch fetches many orders concurrently, at most maxConcurrency at a
// time. One slot comes back per requested id, index-aligned with orderIDs;
// a failed order fills its slot with an error and never aborts its siblings.
func (o *Orchestrator) FetchBatch(ctx context.Context, orderIDs []string, creds Credentials, maxConcurrency int) []BatchResult {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	o.log.Infof("fetching batch of %d orders, concurrency %d", len(orderIDs), maxConcurrency)

	sem := semaphore.NewWeighted(int64(maxConcurrency))
	results := make([]BatchResult, len(orderIDs))

	var wg sync.WaitGroup
	for i, id := range orderIDs {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()

			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] = BatchResult{OrderID: id, Err: err}
				return
			}
			defer sem.Release(1)

			record, err := o.FetchOne(ctx, id, creds)
			results[i] = BatchResult{OrderID: id, Record: record, Err: err}
		}(i, id)
	}
	wg.Wait()

	return results
}

// FetchInBatches splits orderIDs into consecutive chunks of batchSize, runs
// each chunk as one concurrent batch, and pauses for interBatchDelay between
// chunks (never after the last). Results are concatenated in chunk order,
// so the full response stays index-aligned with orderIDs.
func (o *Orchestrator) FetchInBatches(ctx context.Context, orderIDs []string, creds Credentials, batchSize, maxConcurrency int, interBatchDelay time.Duration) []BatchResult {
	total := len(orderIDs)
	if total == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = total
	}

	chunks := (total + batchSize - 1) / batchSize
	o.log.Infof("fetching %d orders in %d chunks of up to %d", total, chunks, batchSize)

	results := make([]BatchResult, 0, total)
	for start := 0; start < total; start += batchSize {
		end := start + batchSize
		if end > total {
			end = total
		}

		results = append(results, o.FetchBatch(ctx, orderIDs[start:end], creds, maxConcurrency)...)

		if end < total {
			if err := wait(ctx, interBatchDelay); err != nil {
				// Keep the response index-aligned: every unfetched order
				// gets an error slot.
				for _, id := range orderIDs[end:] {
					results = append(results, BatchResult{OrderID: id, Err: err})
				}
				return results
			}
		}
	}
	return results
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
