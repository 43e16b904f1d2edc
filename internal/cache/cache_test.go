package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "tickd/pkg/logx"
)

func TestOpenDriverSelection(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "default is memory", cfg: Config{}},
		{name: "memory", cfg: Config{Driver: "memory"}},
		{name: "sqlite without path", cfg: Config{Driver: "sqlite"}, wantErr: true},
		{name: "redis without url", cfg: Config{Driver: "redis"}, wantErr: true},
		{name: "unknown", cfg: Config{Driver: "memcached"}, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			c, err := Open(tt.cfg, logx.Nop())
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Open(%+v) expected error", tt.cfg)
				}
				return
			}
			if err != nil {
				t.Fatalf("Open(%+v) error: %v", tt.cfg, err)
			}
			_ = c.Close()
		})
	}
}

func TestMemoryPutHasForget(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newMemory("t:")

	if ok, _ := c.Has(ctx, "k"); ok {
		t.Fatal("Has on empty cache should be false")
	}
	if err := c.Put(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if ok, _ := c.Has(ctx, "k"); !ok {
		t.Fatal("Has after Put should be true")
	}
	if err := c.Forget(ctx, "k"); err != nil {
		t.Fatalf("Forget error: %v", err)
	}
	if ok, _ := c.Has(ctx, "k"); ok {
		t.Fatal("Has after Forget should be false")
	}
}

func TestMemoryExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newMemory("t:")

	if err := c.Put(ctx, "k", "v", 10*time.Millisecond); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if ok, _ := c.Has(ctx, "k"); ok {
		t.Fatal("expired entry should read as absent")
	}
	// An expired slot must be reclaimable by PutNX.
	ok, err := c.PutNX(ctx, "k", "v2", time.Minute)
	if err != nil {
		t.Fatalf("PutNX error: %v", err)
	}
	if !ok {
		t.Fatal("PutNX over an expired entry should succeed")
	}
}

func TestMemoryPutNX(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newMemory("t:")

	ok, err := c.PutNX(ctx, "k", "v", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first PutNX = (%v, %v), want (true, nil)", ok, err)
	}
	ok, err = c.PutNX(ctx, "k", "v2", time.Minute)
	if err != nil {
		t.Fatalf("second PutNX error: %v", err)
	}
	if ok {
		t.Fatal("second PutNX on a live entry should report false")
	}
}

func TestSQLiteCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := Config{
		Driver: "sqlite",
		Prefix: "t:",
		Path:   filepath.Join(t.TempDir(), "locks.db"),
	}
	c, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open sqlite: %v", err)
	}
	defer c.Close()

	if err := c.Put(ctx, "k", "locked", time.Minute); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if ok, err := c.Has(ctx, "k"); err != nil || !ok {
		t.Fatalf("Has = (%v, %v), want (true, nil)", ok, err)
	}

	if ok, err := c.PutNX(ctx, "k", "locked", time.Minute); err != nil || ok {
		t.Fatalf("PutNX on held key = (%v, %v), want (false, nil)", ok, err)
	}
	if ok, err := c.PutNX(ctx, "other", "locked", time.Minute); err != nil || !ok {
		t.Fatalf("PutNX on free key = (%v, %v), want (true, nil)", ok, err)
	}

	if err := c.Forget(ctx, "k"); err != nil {
		t.Fatalf("Forget error: %v", err)
	}
	if ok, _ := c.Has(ctx, "k"); ok {
		t.Fatal("Has after Forget should be false")
	}
}

func TestSQLiteExpiredReadsAbsent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "locks.db"),
	}
	c, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open sqlite: %v", err)
	}
	defer c.Close()

	if err := c.Put(ctx, "k", "locked", 10*time.Millisecond); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if ok, _ := c.Has(ctx, "k"); ok {
		t.Fatal("expired row should read as absent")
	}
	if ok, err := c.PutNX(ctx, "k", "locked", time.Minute); err != nil || !ok {
		t.Fatalf("PutNX over expired row = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestRedisCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, err := Open(Config{Driver: "redis", URL: "redis://127.0.0.1:6379/2", Prefix: "tickd-test:"}, logx.Nop())
	if err != nil {
		t.Fatalf("Open redis: %v", err)
	}
	defer c.Close()

	if _, err := c.Has(ctx, "probe"); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	key := "k-" + time.Now().Format("150405.000000000")
	defer c.Forget(ctx, key)

	if err := c.Put(ctx, key, "locked", time.Minute); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if ok, err := c.Has(ctx, key); err != nil || !ok {
		t.Fatalf("Has = (%v, %v), want (true, nil)", ok, err)
	}
	if ok, err := c.PutNX(ctx, key, "locked", time.Minute); err != nil || ok {
		t.Fatalf("PutNX on held key = (%v, %v), want (false, nil)", ok, err)
	}
	if err := c.Forget(ctx, key); err != nil {
		t.Fatalf("Forget error: %v", err)
	}
	if ok, _ := c.Has(ctx, key); ok {
		t.Fatal("Has after Forget should be false")
	}
}
