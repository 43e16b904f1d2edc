// Package mutex coordinates advisory schedule locks over the shared cache.
//
// A lock key is a stable function of a task's identity (cron expression +
// command), so overlap prevention survives scheduler restarts within the TTL
// window. The coordinator itself holds no state beyond the cache handle.
package mutex

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"tickd/internal/cache"
)

// LockTTL is the safety ceiling on a schedule lock. A crashed run can wedge
// a task for at most this long before the lock expires on its own.
const LockTTL = 1440 * time.Minute

const keyPrefix = "tickd/schedule-"

// Key derives the lock key for a task identity. Identical (expression,
// command) pairs always yield the identical key.
func Key(expression, command string) string {
	sum := sha256.Sum256([]byte(expression + command))
	return keyPrefix + hex.EncodeToString(sum[:])
}

type Coordinator struct {
	store  cache.Cache
	atomic bool
}

type Option func(*Coordinator)

// WithAtomicAcquire switches Acquire to a compare-and-swap write. The
// default is a blind write: two schedulers observing "unlocked" at the same
// instant can both acquire. That race is the documented baseline behavior;
// this option is the corrected mode.
func WithAtomicAcquire() Option {
	return func(c *Coordinator) { c.atomic = true }
}

func New(store cache.Cache, opts ...Option) *Coordinator {
	c := &Coordinator{store: store}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Acquire writes the lock marker with LockTTL. In the default mode it always
// reports true unless the cache write itself fails; in atomic mode it
// reports false when another holder already owns the key.
func (c *Coordinator) Acquire(ctx context.Context, key string) (bool, error) {
	if c.atomic {
		return c.store.PutNX(ctx, key, "locked", LockTTL)
	}
	if err := c.store.Put(ctx, key, "locked", LockTTL); err != nil {
		return false, err
	}
	return true, nil
}

// Release deletes the lock marker.
func (c *Coordinator) Release(ctx context.Context, key string) error {
	return c.store.Forget(ctx, key)
}

// IsLocked reports whether the lock marker currently exists.
func (c *Coordinator) IsLocked(ctx context.Context, key string) (bool, error) {
	return c.store.Has(ctx, key)
}
