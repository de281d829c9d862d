package browser

import (
	"fmt"
	"io"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/orderpull/pkg/logging"
)

// Engine is the live browser stack behind one session. The pool drives
// sessions only through this interface so its concurrency behavior can be
// exercised without launching real browsers.
type Engine interface {
	// Connected reports whether the browser process is still reachable.
	Connected() bool

	// PageCount returns the number of open pages in the session context.
	PageCount() int

	// Page returns the session's long-lived first page.
	Page() (playwright.Page, error)

	// NewPage opens a fresh page in the session context, so concurrent
	// operations never race on one page object.
	NewPage() (playwright.Page, error)

	// Close tears the stack down, page then context then browser then
	// driver. Each step is best-effort.
	Close()
}

// Driver creates engines. The default implementation launches Playwright
// Chromium; tests substitute counting stubs.
type Driver interface {
	Start(identity, cookieString string, cfg SessionConfig) (Engine, error)
}

// chromiumArgs keep headless Chromium lean enough for container use.
var chromiumArgs = []string{
	"--no-sandbox",
	"--disable-setuid-sandbox",
	"--disable-dev-shm-usage",
	"--disable-accelerated-2d-canvas",
	"--no-first-run",
	"--no-zygote",
	"--disable-gpu",
	"--disable-background-timer-throttling",
	"--disable-backgrounding-occluded-windows",
	"--disable-renderer-backgrounding",
	"--disable-features=TranslateUI",
	"--disable-ipc-flooding-protection",
	"--disable-extensions",
	"--disable-default-apps",
	"--disable-sync",
	"--disable-translate",
	"--hide-scrollbars",
	"--mute-audio",
	"--no-default-browser-check",
	"--no-pings",
}

// navigationHeaders mimic a regular interactive Chrome navigation so the
// storefront serves the full detail page.
var navigationHeaders = map[string]string{
	"accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7",
	"accept-language":           "en,zh-CN;q=0.9,zh;q=0.8",
	"cache-control":             "no-cache",
	"pragma":                    "no-cache",
	"sec-ch-ua":                 `"Not)A;Brand";v="8", "Chromium";v="138", "Google Chrome";v="138"`,
	"sec-ch-ua-mobile":          "?0",
	"sec-ch-ua-platform":        `"Windows"`,
	"sec-fetch-dest":            "document",
	"sec-fetch-mode":            "navigate",
	"sec-fetch-site":            "same-origin",
	"sec-fetch-user":            "?1",
	"upgrade-insecure-requests": "1",
}

// Install downloads the Playwright driver and browsers if they are not
// already present. Call once at startup before creating a pool.
func Install() error {
	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}
	if err := playwright.Install(opts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}
	return nil
}

// PlaywrightDriver launches Chromium sessions through Playwright.
type PlaywrightDriver struct {
	log *logging.Logger
}

// NewPlaywrightDriver creates the default driver.
func NewPlaywrightDriver(log *logging.Logger) *PlaywrightDriver {
	return &PlaywrightDriver{log: log}
}

// Start launches a browser, creates an authenticated context with the
// identity's cookies installed, and opens the initial page. A failure at any
// step tears down whatever was already created.
func (d *PlaywrightDriver) Start(identity, cookieString string, cfg SessionConfig) (Engine, error) {
	pw, err := playwright.Run(&playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
		Args:     chromiumArgs,
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	width, height := cfg.ViewportWidth, cfg.ViewportHeight
	if width == 0 {
		width = DefaultViewportWidth
	}
	if height == 0 {
		height = DefaultViewportHeight
	}

	contextOpts := playwright.BrowserNewContextOptions{
		Viewport:         &playwright.Size{Width: width, Height: height},
		ExtraHttpHeaders: navigationHeaders,
	}
	if cfg.UserAgent != "" {
		contextOpts.UserAgent = playwright.String(cfg.UserAgent)
	}

	context, err := browser.NewContext(contextOpts)
	if err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	cookies := ParseCookieString(cookieString)
	if len(cookies) > 0 {
		installed := make([]playwright.OptionalCookie, 0, len(cookies))
		for _, c := range cookies {
			installed = append(installed, playwright.OptionalCookie{
				Name:   c.Name,
				Value:  c.Value,
				Domain: playwright.String(cfg.CookieDomain),
				Path:   playwright.String("/"),
			})
		}
		if err := context.AddCookies(installed); err != nil {
			_ = context.Close()
			_ = browser.Close()
			_ = pw.Stop()
			return nil, fmt.Errorf("failed to install cookies: %w", err)
		}
		d.log.Debugf("installed %d cookies for %s", len(installed), identity)
	}

	if _, err := context.NewPage(); err != nil {
		_ = context.Close()
		_ = browser.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	return &playwrightEngine{pw: pw, browser: browser, context: context, log: d.log}, nil
}

type playwrightEngine struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	log     *logging.Logger
}

func (e *playwrightEngine) Connected() bool {
	return e.browser.IsConnected()
}

func (e *playwrightEngine) PageCount() int {
	return len(e.context.Pages())
}

func (e *playwrightEngine) Page() (playwright.Page, error) {
	pages := e.context.Pages()
	if len(pages) == 0 {
		return nil, fmt.Errorf("session context has no open pages")
	}
	return pages[0], nil
}

func (e *playwrightEngine) NewPage() (playwright.Page, error) {
	return e.context.NewPage()
}

// Close tears everything down in page, context, browser, driver order.
// Teardown failures are logged and never propagated.
func (e *playwrightEngine) Close() {
	for _, page := range e.context.Pages() {
		if err := page.Close(); err != nil {
			e.log.Debugf("failed to close page: %v", err)
		}
	}
	if err := e.context.Close(); err != nil {
		e.log.Debugf("failed to close context: %v", err)
	}
	if err := e.browser.Close(); err != nil {
		e.log.Debugf("failed to close browser: %v", err)
	}
	if err := e.pw.Stop(); err != nil {
		e.log.Debugf("failed to stop playwright: %v", err)
	}
}
