package api

import (
	"math"
	"slices"
	"sync"
	"time"
)

const (
	// initialRenderEstimate seeds the render duration average before any
	// render has finished.
	initialRenderEstimate = 2 * time.Second
	minRetryAfter         = time.Second
	maxRetryAfter         = time.Minute
)

// renderLimiter bounds concurrent dual-field renders per client key and in
// total. Renders are CPU-bound and short, so a rejected client is told when
// the oldest render blocking it should finish, estimated from a moving
// average of completed render durations.
type renderLimiter struct {
	mu       sync.Mutex
	started  map[string][]time.Time
	total    int
	maxPerIP int
	maxTotal int
	avg      time.Duration
	now      func() time.Time
}

func newRenderLimiter(maxPerIP, maxTotal int) *renderLimiter {
	if maxPerIP < 1 {
		maxPerIP = 1
	}
	if maxTotal < maxPerIP {
		maxTotal = maxPerIP
	}
	return &renderLimiter{
		started:  make(map[string][]time.Time),
		maxPerIP: maxPerIP,
		maxTotal: maxTotal,
		avg:      initialRenderEstimate,
		now:      time.Now,
	}
}

// acquire claims a render slot for key. On success the returned release
// must be called once the render ends; calling it again is a no-op. On
// rejection retry is the suggested wait before the next attempt.
func (l *renderLimiter) acquire(key string) (release func(), retry time.Duration, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	switch {
	case len(l.started[key]) >= l.maxPerIP:
		return nil, l.retryAfter(now, l.started[key][0]), false
	case l.total >= l.maxTotal:
		return nil, l.retryAfter(now, l.oldest()), false
	}

	l.started[key] = append(l.started[key], now)
	l.total++

	var once sync.Once
	return func() { once.Do(func() { l.finish(key, now) }) }, 0, true
}

// finish frees the slot started at start and folds its duration into the
// average with weight 1/5.
func (l *renderLimiter) finish(key string, start time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	starts := l.started[key]
	if i := slices.IndexFunc(starts, start.Equal); i >= 0 {
		starts = slices.Delete(starts, i, i+1)
	}
	if len(starts) == 0 {
		delete(l.started, key)
	} else {
		l.started[key] = starts
	}
	l.total--

	if d := l.now().Sub(start); d > 0 {
		l.avg += (d - l.avg) / 5
	}
}

// oldest returns the earliest start among all in-flight renders.
func (l *renderLimiter) oldest() time.Time {
	var first time.Time
	for _, starts := range l.started {
		if len(starts) > 0 && (first.IsZero() || starts[0].Before(first)) {
			first = starts[0]
		}
	}
	return first
}

func (l *renderLimiter) retryAfter(now, blocking time.Time) time.Duration {
	wait := l.avg - now.Sub(blocking)
	return min(max(wait, minRetryAfter), maxRetryAfter)
}

// count returns the number of renders in flight for key.
func (l *renderLimiter) count(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.started[key])
}

// retryAfterSeconds formats d for a Retry-After header, rounding up.
func retryAfterSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
