package cache

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	logx "tickd/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqliteCache persists entries in a single-file SQLite database. Expiry is a
// millisecond timestamp column; expired rows read as absent and are pruned
// opportunistically every pruneEvery writes.
type sqliteCache struct {
	prefix string
	db     *sql.DB
	log    logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Cache, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite cache path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	c := &sqliteCache{prefix: cfg.Prefix, db: db, log: log, pruneEvery: 500}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := c.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *sqliteCache) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, string(b))
	return err
}

func (c *sqliteCache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *sqliteCache) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	until := time.Now().Add(ttl).UnixMilli()
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO locks(key, value, until) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, until=excluded.until`,
		c.prefix+key, value, until,
	)
	c.maybePrune(err)
	return err
}

func (c *sqliteCache) PutNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	now := time.Now()
	until := now.Add(ttl).UnixMilli()
	// The upsert only fires when the existing row is already expired, so the
	// check-and-set is a single atomic statement.
	res, err := c.db.ExecContext(ctx,
		`INSERT INTO locks(key, value, until) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, until=excluded.until
		 WHERE locks.until < ?`,
		c.prefix+key, value, until, now.UnixMilli(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	c.maybePrune(nil)
	return n > 0, nil
}

func (c *sqliteCache) Forget(ctx context.Context, key string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM locks WHERE key = ?`, c.prefix+key)
	return err
}

func (c *sqliteCache) Has(ctx context.Context, key string) (bool, error) {
	var until int64
	err := c.db.QueryRowContext(ctx, `SELECT until FROM locks WHERE key = ?`, c.prefix+key).Scan(&until)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return until > time.Now().UnixMilli(), nil
}

func (c *sqliteCache) maybePrune(opErr error) {
	if opErr != nil {
		return
	}
	if c.opCount.Add(1)%c.pruneEvery != 0 {
		return
	}
	pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	now := time.Now().UnixMilli()
	if _, err := c.db.ExecContext(pctx, `DELETE FROM locks WHERE until < ?`, now); err != nil {
		c.log.Debug("cache prune failed", logx.Err(err))
	}
}
