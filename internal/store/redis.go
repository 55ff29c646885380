package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/energy-market/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache.
// Writes go to the primary store and refresh the cache; reads check Redis
// first then fall back to the primary. The trade log is not cached.
type CachedStore struct {
	primary Store
	rdb     redis.Cmdable
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb redis.Cmdable, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through ---

func (s *CachedStore) SaveBuildings(ctx context.Context, buildings []model.Building) error {
	if err := s.primary.SaveBuildings(ctx, buildings); err != nil {
		return err
	}
	snapshot := make([]model.Building, len(buildings))
	copy(snapshot, buildings)
	sortBuildings(snapshot)
	if data, err := json.Marshal(snapshot); err == nil {
		s.rdb.Set(ctx, buildingsKey(), data, s.ttl)
	}
	return nil
}

func (s *CachedStore) Set(ctx context.Context, key, value string) error {
	if err := s.primary.Set(ctx, key, value); err != nil {
		return err
	}
	s.rdb.Set(ctx, kvKey(key), value, s.ttl)
	return nil
}

// --- Read-through ---

func (s *CachedStore) LoadBuildings(ctx context.Context) ([]model.Building, error) {
	data, err := s.rdb.Get(ctx, buildingsKey()).Bytes()
	if err == nil {
		var bs []model.Building
		if json.Unmarshal(data, &bs) == nil {
			return bs, nil
		}
	}

	bs, err := s.primary.LoadBuildings(ctx)
	if err != nil {
		return nil, err
	}
	if len(bs) > 0 {
		if data, err := json.Marshal(bs); err == nil {
			s.rdb.Set(ctx, buildingsKey(), data, s.ttl)
		}
	}
	return bs, nil
}

func (s *CachedStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.rdb.Get(ctx, kvKey(key)).Result()
	if err == nil {
		return v, nil
	}

	v, err = s.primary.Get(ctx, key)
	if err != nil {
		return "", err
	}
	s.rdb.Set(ctx, kvKey(key), v, s.ttl)
	return v, nil
}

// --- Passthrough ---

func (s *CachedStore) AppendTrade(ctx context.Context, t *model.Trade) error {
	return s.primary.AppendTrade(ctx, t)
}

func (s *CachedStore) ListTrades(ctx context.Context) ([]model.Trade, error) {
	return s.primary.ListTrades(ctx)
}

// Ping reports whether Redis is reachable. The store keeps working
// against the primary when it is not.
func (s *CachedStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

// --- Cache keys ---

func buildingsKey() string    { return "energy:buildings" }
func kvKey(key string) string { return fmt.Sprintf("energy:kv:%s", key) }
