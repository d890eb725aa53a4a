package discord

import (
	"sync"
	"time"
)

// Limiter caps verification requests per origin over a sliding window: an
// origin may make at most max requests in any window-long span.
type Limiter struct {
	mu      sync.Mutex
	origins map[string][]time.Time
	max     int
	window  time.Duration
	now     func() time.Time
}

// NewLimiter creates a limiter allowing max requests per window per origin
func NewLimiter(max int, window time.Duration) *Limiter {
	if max <= 0 {
		max = 45
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		origins: make(map[string][]time.Time),
		max:     max,
		window:  window,
		now:     time.Now,
	}
}

// WithClock replaces the clock used to stamp requests
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Allow records a request from origin. When the window is full it returns
// false and the time until the oldest request leaves the window. A refused
// request is not recorded.
func (l *Limiter) Allow(origin string) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	hits := prune(l.origins[origin], now.Add(-l.window))
	if len(hits) >= l.max {
		l.origins[origin] = hits
		return false, hits[0].Add(l.window).Sub(now)
	}
	l.origins[origin] = append(hits, now)
	return true, 0
}

// prune drops the timestamps at or before cutoff; hits is in arrival order
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}

// Sweep forgets origins with no request inside the window at now
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	removed := 0
	for origin, hits := range l.origins {
		hits = prune(hits, cutoff)
		if len(hits) == 0 {
			delete(l.origins, origin)
			removed++
			continue
		}
		l.origins[origin] = hits
	}
	return removed
}

// Reset forgets every origin
func (l *Limiter) Reset() {
	l.mu.Lock()
	l.origins = make(map[string][]time.Time)
	l.mu.Unlock()
}

// Len is the number of tracked origins
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.origins)
}

// Max is the number of requests an origin may make per window
func (l *Limiter) Max() int { return l.max }

// Window is the length of the sliding window
func (l *Limiter) Window() time.Duration { return l.window }
