package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gomodule/redigo/redis"

	logx "tickd/pkg/logx"
)

// redisCache stores entries in Redis, where TTL handling is native. This is
// the driver to use when several scheduler instances share lock state.
type redisCache struct {
	prefix string
	pool   *redis.Pool
	log    logx.Logger
}

func openRedis(cfg Config, log logx.Logger) (Cache, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("redis cache url is required")
	}
	pool := &redis.Pool{
		MaxIdle:     16,
		IdleTimeout: 240 * time.Second,
		Dial: func() (redis.Conn, error) {
			return redis.DialURL(url)
		},
	}
	return &redisCache{prefix: cfg.Prefix, pool: pool, log: log}, nil
}

func (c *redisCache) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	conn := c.pool.Get()
	defer conn.Close()

	_, err := conn.Do("SETEX", c.prefix+key, int64(ttl.Seconds()), value)
	return err
}

func (c *redisCache) PutNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	conn := c.pool.Get()
	defer conn.Close()

	reply, err := redis.String(conn.Do("SET", c.prefix+key, value, "EX", int64(ttl.Seconds()), "NX"))
	if errors.Is(err, redis.ErrNil) {
		// NX lost: the key is already held.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return reply == "OK", nil
}

func (c *redisCache) Forget(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	conn := c.pool.Get()
	defer conn.Close()

	_, err := conn.Do("DEL", c.prefix+key)
	return err
}

func (c *redisCache) Has(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	conn := c.pool.Get()
	defer conn.Close()

	return redis.Bool(conn.Do("EXISTS", c.prefix+key))
}

func (c *redisCache) Close() error { return c.pool.Close() }
