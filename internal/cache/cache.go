// Package cache provides the shared key/value store backing schedule
// mutexes. Entries carry a TTL; all drivers namespace keys with a
// configurable prefix so lock keys never collide with unrelated usage of
// the same store.
package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "tickd/pkg/logx"
)

const defaultPrefix = "tickd:"

// Cache is the minimal store API the scheduling engine depends on.
//
// Put unconditionally writes an entry with an expiry. PutNX writes only if
// no live entry exists and reports whether the write happened (the atomic
// acquire used by the corrected mutex mode). Has reports whether a live
// (unexpired) entry exists.
type Cache interface {
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	PutNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Forget(ctx context.Context, key string) error
	Has(ctx context.Context, key string) (bool, error)
	Close() error
}

// Config configures the cache store.
//
// Driver values:
//   - "memory": in-process map (single node, default)
//   - "sqlite": SQLite database file
//   - "redis": Redis via URL (shared across scheduler instances)
type Config struct {
	Driver      string
	Prefix      string
	Path        string        // sqlite only
	URL         string        // redis only, e.g. "redis://127.0.0.1:6379/0"
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Cache, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Prefix) == "" {
		cfg.Prefix = defaultPrefix
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory":
		return newMemory(cfg.Prefix), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "redis":
		return openRedis(cfg, log)
	default:
		return nil, errors.New("unknown cache driver: " + driver)
	}
}
