// Package store persists extracted order records in SQLite so repeat
// fetches can be answered without driving a browser.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/entrhq/orderpull/pkg/logging"
	"github.com/entrhq/orderpull/pkg/order"
)

// SQLiteStore is a file-backed order cache. It satisfies fetch.Store.
type SQLiteStore struct {
	db       *sql.DB
	log      *logging.Logger
	isMemory bool
}

// NewSQLiteStore opens (or creates) the order database at dbPath. Pass
// ":memory:" for an ephemeral store.
func NewSQLiteStore(dbPath string, log *logging.Logger) (*SQLiteStore, error) {
	if log == nil {
		log, _ = logging.NewLogger("store")
	}

	var connStr string
	isMemory := dbPath == ":memory:"

	if isMemory {
		connStr = "file::memory:?cache=shared&_busy_timeout=5000"
	} else {
		dir := filepath.Dir(dbPath)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create store directory: %w", err)
			}
		}
		connStr = dbPath + "?_journal=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open order database: %w", err)
	}

	// SQLite is single-writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db, log: log, isMemory: isMemory}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate order database: %w", err)
	}

	log.Infof("order store opened at %s", dbPath)
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS orders (
		order_id TEXT PRIMARY KEY,
		record_json TEXT NOT NULL,
		amount TEXT NOT NULL DEFAULT '',
		order_status TEXT NOT NULL DEFAULT '',
		fetched_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_orders_fetched_at ON orders(fetched_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Get returns the stored record for orderID. The second return value is
// false when no record exists.
func (s *SQLiteStore) Get(ctx context.Context, orderID string) (*order.Record, bool, error) {
	var recordJSON string
	err := s.db.QueryRowContext(ctx,
		"SELECT record_json FROM orders WHERE order_id = ?", orderID,
	).Scan(&recordJSON)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load order %s: %w", orderID, err)
	}

	var record order.Record
	if err := json.Unmarshal([]byte(recordJSON), &record); err != nil {
		return nil, false, fmt.Errorf("corrupt record for order %s: %w", orderID, err)
	}
	return &record, true, nil
}

// Put upserts a record, replacing any previous copy for the same order id.
func (s *SQLiteStore) Put(ctx context.Context, record *order.Record) error {
	recordJSON, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal order %s: %w", record.OrderID, err)
	}

	query := `
	INSERT INTO orders (order_id, record_json, amount, order_status, fetched_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(order_id) DO UPDATE SET
		record_json = excluded.record_json,
		amount = excluded.amount,
		order_status = excluded.order_status,
		fetched_at = excluded.fetched_at
	`

	fetchedAt := record.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, query,
		record.OrderID,
		string(recordJSON),
		record.Amount,
		record.OrderStatus,
		fetchedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save order %s: %w", record.OrderID, err)
	}

	s.log.Debugf("order %s persisted", record.OrderID)
	return nil
}

// Delete removes the record for orderID, if any.
func (s *SQLiteStore) Delete(ctx context.Context, orderID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM orders WHERE order_id = ?", orderID); err != nil {
		return fmt.Errorf("failed to delete order %s: %w", orderID, err)
	}
	return nil
}

// PurgeOlderThan removes records fetched before the threshold and returns
// how many were removed.
func (s *SQLiteStore) PurgeOlderThan(ctx context.Context, threshold time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM orders WHERE fetched_at < ?",
		threshold.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge orders: %w", err)
	}

	count, _ := result.RowsAffected()
	if count > 0 {
		s.log.Infof("purged %d stale order records", count)
	}
	return count, nil
}

// Count returns how many records the store holds.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count orders: %w", err)
	}
	return n, nil
}

// Close flushes the WAL and closes the database.
func (s *SQLiteStore) Close() error {
	if !s.isMemory {
		if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			s.log.Warnf("failed to checkpoint WAL before close: %v", err)
		}
	}
	return s.db.Close()
}
