// Package main provides the orderpull command line interface. It drives a
// pooled headless browser against seller order-detail pages and emits the
// extracted records as JSON.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/entrhq/orderpull/pkg/browser"
	"github.com/entrhq/orderpull/pkg/config"
	"github.com/entrhq/orderpull/pkg/extract"
	"github.com/entrhq/orderpull/pkg/fetch"
	"github.com/entrhq/orderpull/pkg/logging"
	"github.com/entrhq/orderpull/pkg/order"
	"github.com/entrhq/orderpull/pkg/store"
)

const version = "0.1.0"

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	titleStyle = lipgloss.NewStyle().Bold(true)
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigFile  string
	OrderID     string
	OrderIDs    string
	OrdersFile  string
	Identity    string
	Cookie      string
	OutputFile  string
	Concurrency int
	BatchSize   int
	NoCache     bool
	Install     bool
	ShowVersion bool
}

// fetchResult is the JSON shape of one order in the output file.
type fetchResult struct {
	OrderID string        `json:"order_id"`
	Record  *order.Record `json:"record,omitempty"`
	Error   string        `json:"error,omitempty"`
}

func main() {
	cli := parseFlags()

	if cli.ShowVersion {
		fmt.Printf("orderpull v%s\n", version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nShutting down gracefully...")
		cancel()
	}()

	if err := run(ctx, cli); err != nil {
		cancel()
		fmt.Fprintln(os.Stderr, errStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
	cancel()
}

// parseFlags parses command line flags
func parseFlags() *CLIConfig {
	cli := &CLIConfig{}

	flag.StringVar(&cli.ConfigFile, "config", "", "Path to configuration file (YAML)")
	flag.StringVar(&cli.OrderID, "order", "", "Single order id to fetch")
	flag.StringVar(&cli.OrderIDs, "orders", "", "Comma-separated order ids to fetch")
	flag.StringVar(&cli.OrdersFile, "orders-file", "", "File with one order id per line")
	flag.StringVar(&cli.Identity, "identity", "", "Account identity (defaults to the first configured account)")
	flag.StringVar(&cli.Cookie, "cookie", os.Getenv("ORDERPULL_COOKIE"), "Session cookie string for the account")
	flag.StringVar(&cli.OutputFile, "output", "", "Output file for fetched records (default stdout)")
	flag.IntVar(&cli.Concurrency, "concurrency", 0, "Max concurrent fetches (overrides config)")
	flag.IntVar(&cli.BatchSize, "batch-size", 0, "Orders per batch (overrides config)")
	flag.BoolVar(&cli.NoCache, "no-cache", false, "Skip the order cache and always fetch live")
	flag.BoolVar(&cli.Install, "install", false, "Install browser binaries and exit")
	flag.BoolVar(&cli.ShowVersion, "version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "orderpull - Seller order extraction over a pooled headless browser\n\n")
		fmt.Fprintf(os.Stderr, "Usage: orderpull [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Fetch one order with an inline cookie\n")
		fmt.Fprintf(os.Stderr, "  orderpull -order 123456789 -cookie \"$COOKIE\"\n\n")
		fmt.Fprintf(os.Stderr, "  # Fetch a list of orders with a config file\n")
		fmt.Fprintf(os.Stderr, "  orderpull -config orderpull.yaml -orders-file orders.txt -output records.json\n\n")
		fmt.Fprintf(os.Stderr, "  # Install browser binaries\n")
		fmt.Fprintf(os.Stderr, "  orderpull -install\n\n")
	}

	flag.Parse()
	return cli
}

func run(ctx context.Context, cli *CLIConfig) error {
	if cli.Install {
		fmt.Fprintln(os.Stderr, "Installing browser binaries...")
		if err := browser.Install(); err != nil {
			return fmt.Errorf("browser install failed: %w", err)
		}
		fmt.Fprintln(os.Stderr, okStyle.Render("Browser binaries installed"))
		return nil
	}

	cfg, err := config.Load(cli.ConfigFile)
	if err != nil {
		return err
	}
	if cli.Concurrency > 0 {
		cfg.Fetch.MaxConcurrency = cli.Concurrency
	}
	if cli.BatchSize > 0 {
		cfg.Fetch.BatchSize = cli.BatchSize
	}

	orderIDs, err := resolveOrderIDs(cli)
	if err != nil {
		return err
	}

	creds, err := resolveCredentials(cli, cfg)
	if err != nil {
		return err
	}

	log, err := logging.NewLogger("main")
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer log.Close()
	fmt.Fprintln(os.Stderr, dimStyle.Render("log: "+log.LogPath()))

	pool := browser.NewPool(browser.Config{
		MaxSize:     cfg.Pool.MaxSize,
		IdleTimeout: cfg.Pool.IdleTimeout(),
		Session: browser.SessionConfig{
			Headless:     cfg.Browser.Headless,
			CookieDomain: cfg.Browser.CookieDomain,
			UserAgent:    cfg.Browser.UserAgent,
		},
	})
	defer pool.CloseAll()
	go pool.RunSweeper(ctx, cfg.Pool.SweepInterval())

	var recordStore fetch.Store
	if !cli.NoCache && cfg.Cache.Path != "" {
		sqliteStore, err := store.NewSQLiteStore(cfg.Cache.Path, nil)
		if err != nil {
			return err
		}
		defer sqliteStore.Close()
		recordStore = sqliteStore
	}

	extractor := extract.New(extract.Config{
		BaseURL: cfg.Browser.BaseURL,
		Selectors: extract.Selectors{
			Amount:       cfg.Browser.Selectors.Amount,
			SKU:          cfg.Browser.Selectors.SKU,
			AddressValue: cfg.Browser.Selectors.AddressValue,
		},
	})

	orchestrator := fetch.New(fetch.Config{
		Pool:         pool,
		Extractor:    extractor,
		Store:        recordStore,
		Timeout:      cfg.Fetch.Timeout(),
		NavPerSecond: cfg.Fetch.NavPerSecond,
		NavBurst:     cfg.Fetch.NavBurst,
	})

	start := time.Now()
	var results []fetch.BatchResult
	if len(orderIDs) == 1 {
		record, err := orchestrator.FetchOne(ctx, orderIDs[0], creds)
		results = []fetch.BatchResult{{OrderID: orderIDs[0], Record: record, Err: err}}
	} else {
		results = orchestrator.FetchInBatches(ctx, orderIDs, creds,
			cfg.Fetch.BatchSize, cfg.Fetch.MaxConcurrency, cfg.Fetch.BatchDelay())
	}

	if err := writeResults(cli.OutputFile, results); err != nil {
		return err
	}

	printSummary(results, time.Since(start))

	status := pool.Status()
	log.Infof("pool at shutdown: %d/%d sessions", status.Total, status.MaxSize)

	for _, r := range results {
		if r.Err != nil {
			return fmt.Errorf("%d of %d orders failed", countFailed(results), len(results))
		}
	}
	return nil
}

// resolveOrderIDs merges the three input flags into one deduplicated list,
// preserving first-seen order.
func resolveOrderIDs(cli *CLIConfig) ([]string, error) {
	var ids []string

	if cli.OrderID != "" {
		ids = append(ids, cli.OrderID)
	}
	for _, id := range strings.Split(cli.OrderIDs, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if cli.OrdersFile != "" {
		f, err := os.Open(cli.OrdersFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read orders file: %w", err)
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			if id := strings.TrimSpace(scanner.Text()); id != "" && !strings.HasPrefix(id, "#") {
				ids = append(ids, id)
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read orders file: %w", err)
		}
	}

	seen := make(map[string]bool, len(ids))
	unique := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}

	if len(unique) == 0 {
		return nil, fmt.Errorf("no order ids given: use -order, -orders, or -orders-file")
	}
	return unique, nil
}

func resolveCredentials(cli *CLIConfig, cfg *config.Config) (fetch.Credentials, error) {
	identity := cli.Identity
	if identity == "" && len(cfg.Accounts) > 0 {
		identity = cfg.Accounts[0].Identity
	}
	if identity == "" {
		identity = "default"
	}

	cookie := cli.Cookie
	if cookie == "" {
		cookie, _ = cfg.CookieFor(identity)
	}
	if cookie == "" {
		return fetch.Credentials{}, fmt.Errorf("no cookie for account %q: use -cookie, ORDERPULL_COOKIE, or an accounts entry", identity)
	}

	return fetch.Credentials{Identity: identity, Cookie: cookie}, nil
}

func writeResults(path string, results []fetch.BatchResult) error {
	out := make([]fetchResult, len(results))
	for i, r := range results {
		out[i] = fetchResult{OrderID: r.OrderID, Record: r.Record, Error: r.ErrorMessage()}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	data = append(data, '\n')

	if path == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func printSummary(results []fetch.BatchResult, elapsed time.Duration) {
	var ok, cached int
	for _, r := range results {
		if r.Err == nil {
			ok++
			if r.Record != nil && r.Record.FromCache {
				cached++
			}
		}
	}
	failed := len(results) - ok

	line := fmt.Sprintf("%s %s fetched, %s cached",
		titleStyle.Render(fmt.Sprintf("%d orders", len(results))),
		okStyle.Render(fmt.Sprintf("%d", ok)),
		dimStyle.Render(fmt.Sprintf("%d", cached)))
	if failed > 0 {
		line += ", " + errStyle.Render(fmt.Sprintf("%d failed", failed))
	}
	fmt.Fprintf(os.Stderr, "%s in %s\n", line, elapsed.Round(time.Millisecond))
}

func countFailed(results []fetch.BatchResult) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}
