package cache

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/pkg/errors"
)

const DefaultCacheTTL time.Duration = 5 * time.Minute

// Cache is a namespaced ristretto cache. Values are costed by the
// caller, usually their byte size.
type Cache struct {
	c   *ristretto.Cache
	ttl time.Duration
}

func NewCache(maxCost int64, ttl time.Duration) (*Cache, error) {
	if maxCost <= 0 {
		maxCost = 64 << 20
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "NewCache")
	}

	return &Cache{c: cache, ttl: ttl}, nil
}

func key(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

func (c *Cache) Get(namespace, k string) (interface{}, bool) {
	return c.c.Get(key(namespace, k))
}

// Set reports whether the value was admitted. Admission is async so
// a following Get may still miss.
func (c *Cache) Set(namespace, k string, v interface{}, cost int64) bool {
	if cost < 1 {
		cost = 1
	}
	return c.c.SetWithTTL(key(namespace, k), v, cost, c.ttl)
}

func (c *Cache) Del(namespace, k string) {
	c.c.Del(key(namespace, k))
}

// Clear drops every namespace
func (c *Cache) Clear() {
	c.c.Clear()
}

func (c *Cache) Close() {
	c.c.Close()
}
