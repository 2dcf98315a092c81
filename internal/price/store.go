package price

import (
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Store keeps the last fetched price per symbol. Implementations must be safe
// for concurrent use; last writer wins.
type Store interface {
	Get(symbol string) (decimal.Decimal, time.Time, bool, error)
	Set(symbol string, price decimal.Decimal, fetchedAt time.Time) error
}

type entry struct {
	price     decimal.Decimal
	fetchedAt time.Time
}

type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]entry{}}
}

func (s *MemoryStore) Get(symbol string) (decimal.Decimal, time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[normalizeSymbol(symbol)]
	if !ok {
		return decimal.Zero, time.Time{}, false, nil
	}
	return e.price, e.fetchedAt, true, nil
}

func (s *MemoryStore) Set(symbol string, price decimal.Decimal, fetchedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[normalizeSymbol(symbol)] = entry{price: price, fetchedAt: fetchedAt}
	return nil
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
