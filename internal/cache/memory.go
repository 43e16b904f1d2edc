package cache

import (
	"context"
	"sync"
	"time"
)

// memoryCache is the in-process driver. Expiry is lazy: expired entries are
// treated as absent and overwritten in place; a periodic sweep keeps the map
// from growing unbounded under churn.
type memoryCache struct {
	prefix string

	mu      sync.Mutex
	entries map[string]memEntry
	ops     uint64
}

type memEntry struct {
	value string
	until time.Time
}

const memSweepEvery = 500

func newMemory(prefix string) *memoryCache {
	return &memoryCache{prefix: prefix, entries: map[string]memEntry{}}
}

func (c *memoryCache) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[c.prefix+key] = memEntry{value: value, until: time.Now().Add(ttl)}
	c.sweepLocked()
	return nil
}

func (c *memoryCache) PutNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	k := c.prefix + key
	if e, ok := c.entries[k]; ok && time.Now().Before(e.until) {
		return false, nil
	}
	c.entries[k] = memEntry{value: value, until: time.Now().Add(ttl)}
	c.sweepLocked()
	return true, nil
}

func (c *memoryCache) Forget(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, c.prefix+key)
	return nil
}

func (c *memoryCache) Has(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[c.prefix+key]
	if !ok {
		return false, nil
	}
	if !time.Now().Before(e.until) {
		delete(c.entries, c.prefix+key)
		return false, nil
	}
	return true, nil
}

func (c *memoryCache) Close() error { return nil }

func (c *memoryCache) sweepLocked() {
	c.ops++
	if c.ops%memSweepEvery != 0 {
		return
	}
	now := time.Now()
	for k, e := range c.entries {
		if !now.Before(e.until) {
			delete(c.entries, k)
		}
	}
}
