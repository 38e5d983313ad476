package api

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(perIP, total int) (*renderLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)}
	l := newRenderLimiter(perIP, total)
	l.now = clock.now
	return l, clock
}

// TestRenderLimiter verifies per-IP and global concurrent render limits.
func TestRenderLimiter(t *testing.T) {
	limiter, _ := newTestLimiter(2, 3)

	var releases []func()
	for i := range 2 {
		release, _, ok := limiter.acquire("10.0.0.1")
		if !ok {
			t.Fatalf("acquire %d should succeed", i+1)
		}
		releases = append(releases, release)
	}
	if _, _, ok := limiter.acquire("10.0.0.1"); ok {
		t.Error("acquire beyond per-IP limit should fail")
	}

	if _, _, ok := limiter.acquire("10.0.0.2"); !ok {
		t.Error("different IP should not be limited")
	}
	// Global cap of 3 reached.
	if _, _, ok := limiter.acquire("10.0.0.3"); ok {
		t.Error("acquire beyond global limit should fail")
	}

	releases[0]()
	releases[0]()
	if _, _, ok := limiter.acquire("10.0.0.3"); !ok {
		t.Error("acquire after release should succeed")
	}

	if c := limiter.count("10.0.0.1"); c != 1 {
		t.Errorf("count = %d, want 1 after a double release", c)
	}
	if c := limiter.count("10.0.0.9"); c != 0 {
		t.Errorf("count = %d, want 0", c)
	}
}

func TestRenderLimiterRetryAfter(t *testing.T) {
	limiter, clock := newTestLimiter(1, 2)

	first, _, _ := limiter.acquire("10.0.0.1")
	clock.advance(500 * time.Millisecond)
	_, retry, ok := limiter.acquire("10.0.0.1")
	if ok {
		t.Fatal("second render for the same client should be rejected")
	}
	if retry != 1500*time.Millisecond {
		t.Errorf("retry = %v, want the 2s estimate minus 500ms elapsed", retry)
	}
	if got := retryAfterSeconds(retry); got != 2 {
		t.Errorf("Retry-After = %d, want 2", got)
	}

	// A 7s render pulls the estimate to 2s + (7s-2s)/5 = 3s.
	clock.advance(6500 * time.Millisecond)
	first()
	if limiter.avg != 3*time.Second {
		t.Fatalf("avg = %v, want 3s", limiter.avg)
	}

	// Global cap: the wait follows the oldest render of any client.
	limiter.acquire("10.0.0.1")
	clock.advance(time.Second)
	limiter.acquire("10.0.0.2")
	clock.advance(500 * time.Millisecond)
	if _, retry, _ := limiter.acquire("10.0.0.3"); retry != 1500*time.Millisecond {
		t.Errorf("global retry = %v, want 1.5s", retry)
	}

	// Overdue renders still ask for at least a second.
	clock.advance(time.Minute)
	if _, retry, _ := limiter.acquire("10.0.0.3"); retry != minRetryAfter {
		t.Errorf("overdue retry = %v, want %v", retry, minRetryAfter)
	}
}

func TestRenderLimiterBounds(t *testing.T) {
	l := newRenderLimiter(0, 0)
	if l.maxPerIP != 1 || l.maxTotal != 1 {
		t.Errorf("limits = %d/%d, want 1/1", l.maxPerIP, l.maxTotal)
	}
}

// TestRenderLimiterConcurrent verifies limiter thread safety.
func TestRenderLimiterConcurrent(t *testing.T) {
	limiter := newRenderLimiter(100, 100)

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if release, _, ok := limiter.acquire("10.0.0.1"); ok {
				defer release()
				time.Sleep(10 * time.Millisecond)
			}
		}()
	}
	wg.Wait()

	if c := limiter.count("10.0.0.1"); c != 0 {
		t.Errorf("count after all released = %d, want 0", c)
	}
	if limiter.total != 0 {
		t.Errorf("total after all released = %d, want 0", limiter.total)
	}
}
