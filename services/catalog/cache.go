package catalog

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
)

var cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "engagement_catalog_cache_lookups_total",
	Help: "Catalog cache lookups by entity and result.",
}, []string{"entity", "result"})

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// Cache is a thread-safe TTL cache whose loads are collapsed per key.
type Cache[V any] struct {
	entity string
	ttl    time.Duration
	now    func() time.Time

	mu    sync.RWMutex
	items map[string]entry[V]
	group singleflight.Group
}

func NewCache[V any](entity string, ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		entity: entity,
		ttl:    ttl,
		now:    time.Now,
		items:  make(map[string]entry[V]),
	}
}

func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.items[key]
	if !ok || (c.ttl > 0 && c.now().Sub(e.storedAt) > c.ttl) {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *Cache[V]) Set(key string, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = entry[V]{value: v, storedAt: c.now()}
}

func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// GetOrLoad returns the cached value or runs load once for all concurrent
// callers of key. Values for which keep returns false are not cached.
func (c *Cache[V]) GetOrLoad(key string, load func() (V, error), keep func(V) bool) (V, error) {
	if v, ok := c.Get(key); ok {
		cacheLookups.WithLabelValues(c.entity, "hit").Inc()
		return v, nil
	}
	cacheLookups.WithLabelValues(c.entity, "miss").Inc()

	out, err, _ := c.group.Do(key, func() (any, error) {
		v, err := load()
		if err != nil {
			return v, err
		}
		if keep == nil || keep(v) {
			c.Set(key, v)
		}
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return out.(V), nil
}
