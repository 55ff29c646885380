package store

import (
	"context"
	"sort"
	"sync"

	"github.com/atmx/energy-market/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	trades    []model.Trade
	buildings map[string]model.Building
	kv        map[string]string
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buildings: make(map[string]model.Building),
		kv:        make(map[string]string),
	}
}

func (s *MemoryStore) AppendTrade(_ context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trades = append(s.trades, *t)
	return nil
}

func (s *MemoryStore) ListTrades(_ context.Context) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Trade, len(s.trades))
	copy(out, s.trades)
	return out, nil
}

func (s *MemoryStore) SaveBuildings(_ context.Context, buildings []model.Building) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buildings = make(map[string]model.Building, len(buildings))
	for _, b := range buildings {
		s.buildings[b.ID] = b
	}
	return nil
}

func (s *MemoryStore) LoadBuildings(_ context.Context) ([]model.Building, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.buildings) == 0 {
		return nil, nil
	}
	out := make([]model.Building, 0, len(s.buildings))
	for _, b := range s.buildings {
		out = append(out, b)
	}
	sortBuildings(out)
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.kv[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.kv[key] = value
	return nil
}

// sortBuildings orders numeric IDs numerically, then everything else lexically.
func sortBuildings(bs []model.Building) {
	sort.Slice(bs, func(i, j int) bool {
		a, b := bs[i].ID, bs[j].ID
		if len(a) != len(b) && isDigits(a) && isDigits(b) {
			return len(a) < len(b)
		}
		return a < b
	})
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
