// Package cache is the read-side projection cache. Entries expire after a
// TTL and the cache never holds more than a fixed number of entries.
package cache

import (
	"fmt"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/sells-group/inspection-cli/internal/metrics"
)

const (
	propertyPrefix = "property:"
	listPrefix     = "properties:"
)

// Cache wraps go-cache with a capacity bound and property-scoped
// invalidation. A Cache with a zero TTL stores nothing.
type Cache struct {
	mu         sync.Mutex
	items      *gocache.Cache
	ttl        time.Duration
	maxEntries int
	metrics    *metrics.Metrics
}

// New creates a Cache. maxEntries <= 0 means unbounded. m may be nil.
func New(ttl time.Duration, maxEntries int, m *metrics.Metrics) *Cache {
	c := &Cache{ttl: ttl, maxEntries: maxEntries, metrics: m}
	if ttl > 0 {
		c.items = gocache.New(ttl, ttl*2)
	}
	return c
}

// PropertyKey returns the key for one property's details.
func PropertyKey(propertyID string) string {
	return propertyPrefix + propertyID
}

// ListKey returns the key for a property listing. parts identify the
// filter.
func ListKey(parts ...any) string {
	var b strings.Builder
	b.WriteString(listPrefix)
	for i, p := range parts {
		if i > 0 {
			b.WriteByte('|')
		}
		fmt.Fprint(&b, p)
	}
	return b.String()
}

// Get returns a cached value.
func (c *Cache) Get(key string) (any, bool) {
	if c.items == nil {
		c.metrics.IncCacheMiss()
		return nil, false
	}
	v, ok := c.items.Get(key)
	if ok {
		c.metrics.IncCacheHit()
	} else {
		c.metrics.IncCacheMiss()
	}
	return v, ok
}

// Set stores a value, evicting the entry closest to expiry when the cache
// is full.
func (c *Cache) Set(key string, v any) {
	if c.items == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxEntries > 0 {
		if _, exists := c.items.Get(key); !exists && c.items.ItemCount() >= c.maxEntries {
			c.items.DeleteExpired()
			if c.items.ItemCount() >= c.maxEntries {
				c.evictOldest()
			}
		}
	}
	c.items.Set(key, v, gocache.DefaultExpiration)
}

func (c *Cache) evictOldest() {
	var (
		oldestKey string
		oldestExp int64
	)
	for k, item := range c.items.Items() {
		if oldestKey == "" || item.Expiration < oldestExp {
			oldestKey, oldestExp = k, item.Expiration
		}
	}
	if oldestKey != "" {
		c.items.Delete(oldestKey)
	}
}

// Invalidate removes one key.
func (c *Cache) Invalidate(key string) {
	if c.items == nil {
		return
	}
	c.items.Delete(key)
}

// InvalidateProperty removes the property's details and every listing,
// since any listing may include the property.
func (c *Cache) InvalidateProperty(propertyID string) {
	if c.items == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items.Delete(PropertyKey(propertyID))
	for k := range c.items.Items() {
		if strings.HasPrefix(k, listPrefix) {
			c.items.Delete(k)
		}
	}
}

// Flush removes every entry.
func (c *Cache) Flush() {
	if c.items != nil {
		c.items.Flush()
	}
}

// Len returns the number of entries, including expired ones not yet
// cleaned up.
func (c *Cache) Len() int {
	if c.items == nil {
		return 0
	}
	return c.items.ItemCount()
}
