// Package extract turns one authenticated browser page and one order id into
// a merged order record, combining an intercepted order-detail API response
// with content scraped from the rendered page.
package extract

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/orderpull/pkg/logging"
	"github.com/entrhq/orderpull/pkg/order"
)

// ErrNoData reports a fetch where the API interception captured nothing and
// the page scrape yielded nothing. Callers treat it like any other per-order
// failure; it never aborts sibling fetches.
var ErrNoData = errors.New("no order data from interception or page scrape")

// NavigationError reports a failed or non-2xx navigation. It is fatal for
// the fetch that hit it.
type NavigationError struct {
	URL    string
	Status int
	Err    error
}

func (e *NavigationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("navigation to %s failed: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("navigation to %s returned status %d", e.URL, e.Status)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// Config configures an Extractor.
type Config struct {
	// BaseURL is the storefront origin the order-detail path is built on.
	BaseURL string

	// EndpointSubstring identifies the order-detail API inside request
	// URLs. Defaults to DefaultEndpointSubstring.
	EndpointSubstring string

	// Selectors override the page selectors. Zero fields get defaults.
	Selectors Selectors

	// SettleDelay is the pause after navigation before scraping, giving
	// late XHRs and rendering a chance to finish.
	SettleDelay time.Duration

	// ScrollPause is the pause between the lazy-load scroll steps.
	ScrollPause time.Duration

	Logger *logging.Logger
}

// Extractor performs single-order extractions against leased pages. It is
// stateless across calls and safe for concurrent use.
type Extractor struct {
	baseURL     string
	pattern     glob.Glob
	selectors   Selectors
	settleDelay time.Duration
	scrollPause time.Duration
	log         *logging.Logger
}

// New creates an Extractor.
func New(cfg Config) *Extractor {
	if cfg.EndpointSubstring == "" {
		cfg.EndpointSubstring = DefaultEndpointSubstring
	}
	defaults := DefaultSelectors()
	if cfg.Selectors.Amount == "" {
		cfg.Selectors.Amount = defaults.Amount
	}
	if cfg.Selectors.SKU == "" {
		cfg.Selectors.SKU = defaults.SKU
	}
	if cfg.Selectors.AddressValue == "" {
		cfg.Selectors.AddressValue = defaults.AddressValue
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 2 * time.Second
	}
	if cfg.ScrollPause <= 0 {
		cfg.ScrollPause = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger, _ = logging.NewLogger("extract")
	}

	return &Extractor{
		baseURL:     cfg.BaseURL,
		pattern:     glob.MustCompile("*" + cfg.EndpointSubstring + "*"),
		selectors:   cfg.Selectors,
		settleDelay: cfg.SettleDelay,
		scrollPause: cfg.ScrollPause,
		log:         cfg.Logger,
	}
}

// OrderURL builds the seller-side order-detail URL for an order id.
func (e *Extractor) OrderURL(orderID string) string {
	return fmt.Sprintf("%s/order-detail?orderId=%s&role=seller", e.baseURL, url.QueryEscape(orderID))
}

// Extract navigates the given page to the order's detail view and produces a
// merged record from the intercepted API payload and the rendered content.
//
// The page is driven, not owned: closing it (when it was leased per call) is
// the caller's job, so the underlying session stays reusable either way.
func (e *Extractor) Extract(ctx context.Context, page playwright.Page, orderID string, timeout time.Duration) (*order.Record, error) {
	var (
		mu       sync.Mutex
		captured [][]byte
	)

	// Observe every request; matching responses are fetched, recorded, and
	// delivered to the page unmodified. Everything else passes through.
	handler := func(route playwright.Route) {
		request := route.Request()
		if !e.pattern.Match(request.URL()) {
			if err := route.Continue(); err != nil {
				e.log.Debugf("route continue failed: %v", err)
			}
			return
		}

		e.log.Debugf("intercepted order-detail API request for %s", orderID)
		response, err := route.Fetch()
		if err != nil {
			e.log.Warnf("failed to fetch intercepted response: %v", err)
			if err := route.Continue(); err != nil {
				e.log.Debugf("route continue failed: %v", err)
			}
			return
		}

		if body, err := response.Body(); err != nil {
			e.log.Warnf("failed to read intercepted response body: %v", err)
		} else {
			mu.Lock()
			captured = append(captured, body)
			mu.Unlock()
		}

		if err := route.Fulfill(playwright.RouteFulfillOptions{Response: response}); err != nil {
			e.log.Debugf("route fulfill failed: %v", err)
		}
	}

	if err := page.Route("**/*", handler); err != nil {
		return nil, fmt.Errorf("failed to register interception route: %w", err)
	}
	defer func() {
		if err := page.Unroute("**/*"); err != nil {
			e.log.Debugf("failed to unroute page: %v", err)
		}
	}()

	target := e.OrderURL(orderID)
	e.log.Infof("navigating to %s", target)

	waitUntil := playwright.WaitUntilStateNetworkidle
	response, err := page.Goto(target, playwright.PageGotoOptions{
		WaitUntil: waitUntil,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return nil, &NavigationError{URL: target, Err: err}
	}
	if response == nil {
		return nil, &NavigationError{URL: target, Err: errors.New("no response")}
	}
	if status := response.Status(); status < 200 || status >= 300 {
		return nil, &NavigationError{URL: target, Status: status}
	}

	// Give late XHRs and rendering a moment, then nudge lazily-loaded
	// content into the DOM. Best-effort; a failed scroll degrades nothing
	// but the scrape below.
	if err := e.settle(ctx, page); err != nil {
		return nil, err
	}

	network := e.parseCaptured(orderID, &mu, &captured)
	dom := e.scrapeDOM(page)

	if network.Empty() && dom.Empty() {
		return nil, fmt.Errorf("order %s: %w", orderID, ErrNoData)
	}

	record := order.Merge(orderID, network, dom)
	record.URL = target
	if title, err := page.Title(); err == nil {
		record.PageTitle = title
	}

	e.log.Infof("order %s extracted", orderID)
	return record, nil
}

// settle waits out the render delay and scrolls to the bottom and back so
// lazily-loaded sections render. Only context cancellation is an error.
func (e *Extractor) settle(ctx context.Context, page playwright.Page) error {
	if err := sleep(ctx, e.settleDelay); err != nil {
		return err
	}

	if _, err := page.Evaluate("window.scrollTo(0, document.body.scrollHeight)"); err != nil {
		e.log.Debugf("scroll to bottom failed: %v", err)
	}
	if err := sleep(ctx, e.scrollPause); err != nil {
		return err
	}
	if _, err := page.Evaluate("window.scrollTo(0, 0)"); err != nil {
		e.log.Debugf("scroll to top failed: %v", err)
	}
	return sleep(ctx, 2*e.scrollPause)
}

// parseCaptured parses the first intercepted payload into the network view.
// A failure envelope or malformed body degrades to an empty view; the DOM
// scrape may still carry the fetch.
func (e *Extractor) parseCaptured(orderID string, mu *sync.Mutex, captured *[][]byte) order.View {
	mu.Lock()
	defer mu.Unlock()

	if len(*captured) == 0 {
		e.log.Warnf("order %s: no API response intercepted, relying on page scrape", orderID)
		return order.View{}
	}

	e.log.Debugf("order %s: %d API responses intercepted", orderID, len(*captured))
	view, err := parseEnvelope((*captured)[0])
	if err != nil {
		e.log.Warnf("order %s: %v", orderID, err)
		return order.View{}
	}
	return view
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
