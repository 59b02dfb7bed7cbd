package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"livequiz-service/internal/domain"
)

// pruneThreshold is the number of tracked keys above which expired windows are swept.
const pruneThreshold = 1024

// RateLimiter is a fixed-window counter per key. A window resets fully once
// windowStart+window has passed; there is no smoothing.
type RateLimiter struct {
	clock clockwork.Clock

	mu      sync.Mutex
	windows map[string]fixedWindow
}

type fixedWindow struct {
	start  time.Time
	length time.Duration
	count  int
}

func NewRateLimiter(clock clockwork.Clock) *RateLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RateLimiter{
		clock:   clock,
		windows: make(map[string]fixedWindow),
	}
}

func (l *RateLimiter) Check(_ context.Context, key string, max int, window time.Duration) (domain.RateLimit, error) {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !now.Before(w.start.Add(w.length)) {
		if len(l.windows) >= pruneThreshold {
			l.pruneLocked(now)
		}
		l.windows[key] = fixedWindow{start: now, length: window, count: 1}
		return domain.RateLimit{Allowed: true, Remaining: max - 1, ResetIn: ceilSeconds(window)}, nil
	}

	resetIn := ceilSeconds(w.start.Add(w.length).Sub(now))
	if w.count >= max {
		return domain.RateLimit{Allowed: false, Remaining: 0, ResetIn: resetIn}, nil
	}
	w.count++
	l.windows[key] = w
	return domain.RateLimit{Allowed: true, Remaining: max - w.count, ResetIn: resetIn}, nil
}

func (l *RateLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	delete(l.windows, key)
	l.mu.Unlock()
	return nil
}

func (l *RateLimiter) pruneLocked(now time.Time) {
	for key, w := range l.windows {
		if !now.Before(w.start.Add(w.length)) {
			delete(l.windows, key)
		}
	}
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
