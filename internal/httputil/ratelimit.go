package httputil

import (
	"context"
	"sync"
	"time"
)

// DefaultHostInterval is the minimum spacing between two requests to the
// same host. Procurement portals throttle at roughly this rate.
const DefaultHostInterval = 600 * time.Millisecond

// HostLimiter enforces a minimum interval between requests to the same
// host. Requests to different hosts do not delay each other.
type HostLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	next     map[string]time.Time

	// now and sleep are injectable for testing.
	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewHostLimiter creates a limiter with the given per-host interval.
// A non-positive interval disables limiting.
func NewHostLimiter(interval time.Duration) *HostLimiter {
	return &HostLimiter{
		interval: interval,
		next:     make(map[string]time.Time),
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// Wait blocks until the host's slot opens, or until ctx is cancelled.
// Concurrent callers for the same host are serialized interval apart.
func (l *HostLimiter) Wait(ctx context.Context, host string) error {
	if l.interval <= 0 {
		return ctx.Err()
	}

	l.mu.Lock()
	now := l.now()
	slot := l.next[host]
	if slot.Before(now) {
		slot = now
	}
	l.next[host] = slot.Add(l.interval)
	l.mu.Unlock()

	if wait := slot.Sub(now); wait > 0 {
		return l.sleep(ctx, wait)
	}
	return ctx.Err()
}

// sleepContext waits for d or until ctx is cancelled, whichever is first.
func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
