// Package clocksync turns a single authoritative timestamp into a shared notion of "now".
//
// Each observer keeps the offset between the authoritative clock and its local clock.
// The offset is overwritten on every sync; there is no smoothing. Until the first sync
// the offset is zero and the local clock is trusted.
package clocksync

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type Clock struct {
	local clockwork.Clock

	mu     sync.RWMutex
	offset time.Duration
	synced bool
}

// New wraps local. A nil local clock means the real wall clock.
func New(local clockwork.Clock) *Clock {
	if local == nil {
		local = clockwork.NewRealClock()
	}
	return &Clock{local: local}
}

// Local exposes the underlying clock, used for arming timers.
func (c *Clock) Local() clockwork.Clock {
	return c.local
}

// Sync records serverTime as observed at the current local instant and returns the new offset.
func (c *Clock) Sync(serverTime time.Time) time.Duration {
	offset := serverTime.Sub(c.local.Now())
	c.mu.Lock()
	c.offset = offset
	c.synced = true
	c.mu.Unlock()
	return offset
}

func (c *Clock) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}

// Synced reports whether an authoritative timestamp has been received.
func (c *Clock) Synced() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.synced
}

// Now is the estimated server time.
func (c *Clock) Now() time.Time {
	return c.local.Now().Add(c.Offset())
}

// ElapsedSeconds is the server time elapsed since anchor, in seconds.
func (c *Clock) ElapsedSeconds(anchor time.Time) float64 {
	return c.Now().Sub(anchor).Seconds()
}

// Remaining is how much of a window of length d starting at anchor is left, never negative.
func (c *Clock) Remaining(anchor time.Time, d time.Duration) time.Duration {
	left := anchor.Add(d).Sub(c.Now())
	if left < 0 {
		return 0
	}
	return left
}
