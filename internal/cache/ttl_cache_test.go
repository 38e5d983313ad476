package cache

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// fakeClock lets tests move time forward.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func newTestCache(cfg Config) (*TTL[string, int], *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New[string, int](cfg, testLogger())
	c.now = clock.Now
	return c, clock
}

// TestTTLCache tests basic cache operations: put, get, expire, evict.
func TestTTLCache(t *testing.T) {
	c, clock := newTestCache(Config{Name: "test", TTL: time.Minute})

	if _, ok := c.Get("m20"); ok {
		t.Fatal("expected miss on empty cache")
	}

	c.Put("m20", 42)
	if v, ok := c.Get("m20"); !ok || v != 42 {
		t.Fatalf("Get = %d, %v; want 42, true", v, ok)
	}

	// Expired entries are not served even before eviction.
	clock.Advance(time.Minute)
	if _, ok := c.Get("m20"); ok {
		t.Error("expected expired entry to miss")
	}

	stats := c.Stats()
	if stats.Entries != 1 {
		t.Errorf("entries: got %d, want 1", stats.Entries)
	}
	if stats.Hits != 1 || stats.Misses != 2 {
		t.Errorf("hits/misses = %d/%d, want 1/2", stats.Hits, stats.Misses)
	}

	if removed := c.EvictExpired(); removed != 1 {
		t.Errorf("EvictExpired removed %d, want 1", removed)
	}
	if c.Stats().Entries != 0 || c.Stats().Evictions != 1 {
		t.Errorf("after eviction: %+v", c.Stats())
	}
}

func TestTTLCacheMaxEntries(t *testing.T) {
	c, clock := newTestCache(Config{Name: "bounded", TTL: time.Hour, MaxEntries: 2})

	c.Put("a", 1)
	clock.Advance(time.Second)
	c.Put("b", 2)
	clock.Advance(time.Second)
	c.Put("c", 3) // drops "a"

	if _, ok := c.Get("a"); ok {
		t.Error("oldest entry should have been dropped")
	}
	for _, k := range []string{"b", "c"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("%q missing", k)
		}
	}

	// Overwriting an existing key does not evict.
	c.Put("b", 20)
	if v, _ := c.Get("b"); v != 20 {
		t.Errorf("b = %d, want 20", v)
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("overwrite should not evict c")
	}
}

func TestTTLCacheStartStops(t *testing.T) {
	c := New[string, int](Config{Name: "janitor", TTL: time.Millisecond, Sweep: 5 * time.Millisecond}, testLogger())
	c.Put("x", 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for c.Stats().Entries != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if c.Stats().Entries != 0 {
		t.Error("janitor did not evict the expired entry")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestTTLCacheConcurrent(t *testing.T) {
	c := New[int, int](Config{Name: "concurrent"}, testLogger())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Put(n*100+j, j)
				c.Get(n*100 + j)
			}
		}(i)
	}
	wg.Wait()
	if got := c.Stats().Entries; got != 800 {
		t.Errorf("entries = %d, want 800", got)
	}
}
