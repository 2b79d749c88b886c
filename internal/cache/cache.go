// Package cache is a TTL cache over the scoped store.
//
// Entries are stored as JSON {value, cachedAt, expiresAt} with millisecond
// timestamps. Every failure inside the cache degrades to a miss and is
// logged; nothing here aborts the caller's operation.
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/wallcrawler78/arenadocs/internal/store"
)

// MaxEntryBytes is the largest serialized entry the cache will store.
const MaxEntryBytes = 100_000

// Well-known keys. Per-category field lists use FieldsKey.
const (
	KeyCategories   = "categories"
	fieldsKeyPrefix = "category_fields_"
)

// FieldsKey returns the cache key for one category's field list.
func FieldsKey(categoryID string) string {
	return fieldsKeyPrefix + categoryID
}

type entry struct {
	Value     json.RawMessage `json:"value"`
	CachedAt  int64           `json:"cachedAt"`
	ExpiresAt int64           `json:"expiresAt"`
}

// Stats counts cache outcomes since construction.
type Stats struct {
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	Expired  int64 `json:"expired"`
	Corrupt  int64 `json:"corrupt"`
	Rejected int64 `json:"rejected"`
}

// Cache is a TTL cache. The zero value is not usable; use New.
type Cache struct {
	store  store.Store
	logger *zap.Logger
	now    func() time.Time
	group  singleflight.Group

	hits, misses, expired, corrupt, rejected atomic.Int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New returns a cache over s.
func New(s store.Store, logger *zap.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{
		store:  s,
		logger: logger.Named("cache"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetRaw returns the cached JSON value for key, or false if it is absent,
// expired or unreadable. Expired and corrupt entries are removed.
func (c *Cache) GetRaw(ctx context.Context, scope store.Scope, key string) (json.RawMessage, bool) {
	raw, ok, err := c.store.Get(ctx, scope, key)
	if err != nil {
		c.logger.Warn("cache read failed", zap.String("scope", string(scope)), zap.String("key", key), zap.Error(err))
		c.misses.Add(1)
		return nil, false
	}
	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	var e entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil || e.ExpiresAt == 0 {
		c.logger.Warn("removing corrupt cache entry", zap.String("scope", string(scope)), zap.String("key", key))
		c.corrupt.Add(1)
		c.misses.Add(1)
		c.Remove(ctx, scope, key)
		return nil, false
	}

	if c.now().UnixMilli() >= e.ExpiresAt {
		c.logger.Debug("cache entry expired", zap.String("key", key))
		c.expired.Add(1)
		c.misses.Add(1)
		c.Remove(ctx, scope, key)
		return nil, false
	}

	c.hits.Add(1)
	return e.Value, true
}

// Get decodes the cached value for key into dst.
func (c *Cache) Get(ctx context.Context, scope store.Scope, key string, dst any) bool {
	raw, ok := c.GetRaw(ctx, scope, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.logger.Warn("cached value has unexpected shape", zap.String("key", key), zap.Error(err))
		c.corrupt.Add(1)
		c.Remove(ctx, scope, key)
		return false
	}
	return true
}

// Set stores value under key for ttl. It reports whether the entry was
// stored; oversized entries and store failures are logged and skipped.
func (c *Cache) Set(ctx context.Context, scope store.Scope, key string, value any, ttl time.Duration) bool {
	v, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cache value not serializable", zap.String("key", key), zap.Error(err))
		c.rejected.Add(1)
		return false
	}

	now := c.now().UnixMilli()
	data, err := json.Marshal(entry{
		Value:     v,
		CachedAt:  now,
		ExpiresAt: now + ttl.Milliseconds(),
	})
	if err != nil {
		c.rejected.Add(1)
		return false
	}
	if len(data) > MaxEntryBytes {
		c.logger.Warn("cache entry too large, not storing",
			zap.String("key", key), zap.Int("bytes", len(data)), zap.Int("max_bytes", MaxEntryBytes))
		c.rejected.Add(1)
		return false
	}

	if err := c.store.Set(ctx, scope, key, string(data)); err != nil {
		c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		c.rejected.Add(1)
		return false
	}
	return true
}

// Remove deletes key. Missing keys and store errors are ignored.
func (c *Cache) Remove(ctx context.Context, scope store.Scope, key string) {
	if err := c.store.Delete(ctx, scope, key); err != nil {
		c.logger.Warn("cache remove failed", zap.String("key", key), zap.Error(err))
	}
}

// Clear removes every key in keys. The store has no prefix scan, so callers
// pass the dynamic keys they know about.
func (c *Cache) Clear(ctx context.Context, scope store.Scope, keys []string) {
	for _, k := range keys {
		c.Remove(ctx, scope, k)
	}
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Expired:  c.expired.Load(),
		Corrupt:  c.corrupt.Load(),
		Rejected: c.rejected.Load(),
	}
}

// GetOrFetch returns the cached value for key, calling fetch on a miss.
// A non-empty fetch result is cached for ttl before being returned. Fetch
// errors propagate and nothing is cached. Concurrent misses for the same key
// share one fetch.
func GetOrFetch[T any](ctx context.Context, c *Cache, scope store.Scope, key string, ttl time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	var cached T
	if c.Get(ctx, scope, key, &cached) {
		return cached, nil
	}

	v, err, _ := c.group.Do(string(scope)+"\x00"+key, func() (any, error) {
		fresh, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if !isEmpty(fresh) {
			c.Set(ctx, scope, key, fresh, ttl)
		}
		return fresh, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	result, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("cache: shared fetch for %q returned %T", key, v)
	}
	return result, nil
}

// isEmpty reports whether v serializes to an empty JSON value.
func isEmpty(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return true
	}
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "null", "[]", "{}", `""`:
		return true
	}
	return false
}
