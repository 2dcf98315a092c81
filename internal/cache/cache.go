package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// PriceStore persists USD spot prices so separate CLI invocations share one
// freshness window. Reads are lock-free; writes take a file lock because
// several processes may refresh the same database.
type PriceStore struct {
	db   *sql.DB
	lock *flock.Flock
	// flock handles are not goroutine-exclusive
	mu sync.Mutex
}

func Open(path, lockPath string) (*PriceStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"CREATE TABLE IF NOT EXISTS price_quotes (symbol TEXT PRIMARY KEY, price_usd TEXT NOT NULL, fetched_at_ms INTEGER NOT NULL);",
	}
	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init cache schema: %w", err)
		}
	}

	return &PriceStore{db: db, lock: flock.New(lockPath)}, nil
}

func (s *PriceStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Prune deletes prices fetched more than maxAge ago.
func (s *PriceStore) Prune(maxAge time.Duration) error {
	if s == nil || s.db == nil {
		return nil
	}
	cutoff := time.Now().Add(-maxAge).UnixMilli()
	if _, err := s.db.Exec("DELETE FROM price_quotes WHERE fetched_at_ms < ?", cutoff); err != nil {
		return fmt.Errorf("prune cache: %w", err)
	}
	return nil
}

func (s *PriceStore) Get(symbol string) (decimal.Decimal, time.Time, bool, error) {
	var (
		raw       string
		fetchedMS int64
	)
	err := s.db.QueryRow("SELECT price_usd, fetched_at_ms FROM price_quotes WHERE symbol = ?", normalize(symbol)).Scan(&raw, &fetchedMS)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, time.Time{}, false, nil
		}
		return decimal.Zero, time.Time{}, false, fmt.Errorf("cache read: %w", err)
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, time.Time{}, false, fmt.Errorf("cache decode %s: %w", symbol, err)
	}
	return price, time.UnixMilli(fetchedMS).UTC(), true, nil
}

func (s *PriceStore) Set(symbol string, price decimal.Decimal, fetchedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	locked, err := s.lock.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock cache: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock cache: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	_, err = s.db.Exec(`
		INSERT INTO price_quotes (symbol, price_usd, fetched_at_ms)
		VALUES (?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			price_usd=excluded.price_usd,
			fetched_at_ms=excluded.fetched_at_ms
	`, normalize(symbol), price.String(), fetchedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("cache write: %w", err)
	}
	return nil
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
