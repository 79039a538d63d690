package sqlfilter

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/nlstn/go-entityhub/internal/query"
)

// DefaultCacheSize is the capacity of caches created with a non-positive size.
const DefaultCacheSize = 256

// Cache is a bounded cache of compiled conditions keyed by dialect, column and
// the wire encoding of the filter. When the cache is full the entire map is
// replaced. All methods are safe for concurrent use.
type Cache struct {
	mu    sync.RWMutex
	items map[uint64]string
	max   int
}

// NewCache creates a cache holding up to size compiled filters.
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &Cache{items: make(map[uint64]string, size), max: size}
}

func cacheKey(filter query.FilterOperation, dialect Dialect, dataColumn string) (uint64, error) {
	data, err := query.MarshalOperation(filter)
	if err != nil {
		return 0, err
	}
	h := xxhash.New()
	_, _ = h.WriteString(dialect.Name())
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(dataColumn)
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(data)
	return h.Sum64(), nil
}

// Compile returns the cached condition for filter, compiling it on a miss.
// Failed compilations are not cached.
func (c *Cache) Compile(filter query.FilterOperation, dialect Dialect, dataColumn string) (string, error) {
	key, err := cacheKey(filter, dialect, dataColumn)
	if err != nil {
		return "", err
	}
	c.mu.RLock()
	sql, ok := c.items[key]
	c.mu.RUnlock()
	if ok {
		return sql, nil
	}

	sql, err = Compile(filter, dialect, dataColumn)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	if len(c.items) >= c.max {
		c.items = make(map[uint64]string, c.max)
	}
	c.items[key] = sql
	c.mu.Unlock()
	return sql, nil
}

// Len returns the number of cached conditions.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
