// Package intern provides the bounded, single-flighted dictionary caches
// that map human identifiers (sensor names, units, label names and
// descriptions, string values) to backend-assigned integer ids without a
// storage round-trip per sample.
package intern

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// Resolver looks up or creates the dictionary entry for key, returning the
// backend-assigned id. Implementations are storage-backend specific (e.g.
// postgres's "INSERT ... ON CONFLICT DO UPDATE ... RETURNING id").
type Resolver[K comparable, V any] func(ctx context.Context, key K) (V, error)

// Cache is a bounded, single-flighted memoization of a Resolver. Concurrent
// Gets for the same key collapse into one Resolver call, and the result set
// is bounded by an LRU so long-running servers don't grow the dictionary
// cache without limit. Eviction is safe because resolvers are idempotent
// and the backend enforces uniqueness.
type Cache[K comparable, V any] struct {
	name     string
	lru      *lru.Cache[K, V]
	resolve  Resolver[K, V]
	sf       singleflight.Group
	keyToStr func(K) string
}

// New builds a Cache of the given capacity backed by resolve. keyToStr is
// used only to key the singleflight group (which requires a string) and may
// be nil for K=string.
func New[K comparable, V any](name string, capacity int, resolve Resolver[K, V], keyToStr func(K) string) (*Cache[K, V], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("intern: %s: capacity must be positive, got %d", name, capacity)
	}
	l, err := lru.New[K, V](capacity)
	if err != nil {
		return nil, fmt.Errorf("intern: %s: %w", name, err)
	}
	return &Cache[K, V]{name: name, lru: l, resolve: resolve, keyToStr: keyToStr}, nil
}

// Get returns the cached value for key, calling the Resolver (at most once
// per concurrently-requested key) on a miss and populating the cache with
// the result.
func (c *Cache[K, V]) Get(ctx context.Context, key K) (V, error) {
	if v, ok := c.lru.Get(key); ok {
		return v, nil
	}

	sfKey := c.sfKey(key)
	v, err, _ := c.sf.Do(sfKey, func() (any, error) {
		// Re-check: another goroutine may have populated the cache while we
		// queued behind the singleflight call for this key.
		if v, ok := c.lru.Get(key); ok {
			return v, nil
		}
		v, err := c.resolve(ctx, key)
		if err != nil {
			return v, fmt.Errorf("intern: %s: resolve %v: %w", c.name, key, err)
		}
		c.lru.Add(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

// Peek returns the cached value for key without touching recency order or
// invoking the Resolver.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	return c.lru.Peek(key)
}

// Put seeds the cache directly, used when a caller already knows the
// (key, id) pair (e.g. warming from a bulk catalog load).
func (c *Cache[K, V]) Put(key K, value V) {
	c.lru.Add(key, value)
}

// Len returns the number of entries currently cached.
func (c *Cache[K, V]) Len() int { return c.lru.Len() }

func (c *Cache[K, V]) sfKey(key K) string {
	if c.keyToStr != nil {
		return c.keyToStr(key)
	}
	return fmt.Sprintf("%v", key)
}
