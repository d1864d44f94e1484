package feeds

import (
	"context"
	"sync"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER - Sliding window over a rolling interval
// ═══════════════════════════════════════════════════════════════════════════════

// RateLimiter admits at most maxRequests within any rolling window. Waiters
// block until the oldest timestamp leaves the window, so grants come out in
// roughly FIFO order.
type RateLimiter struct {
	mu          sync.Mutex
	maxRequests int
	window      time.Duration
	stamps      []time.Time
	now         func() time.Time
}

// NewRateLimiter creates a limiter admitting maxRequests per window
func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
	}
}

// Acquire blocks until a request slot is free or ctx is done. The slot is
// recorded at grant time.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	for {
		r.mu.Lock()
		now := r.now()
		cutoff := now.Add(-r.window)

		// Purge stamps that fell out of the window
		i := 0
		for i < len(r.stamps) && !r.stamps[i].After(cutoff) {
			i++
		}
		r.stamps = append(r.stamps[:0], r.stamps[i:]...)

		if len(r.stamps) < r.maxRequests {
			r.stamps = append(r.stamps, now)
			r.mu.Unlock()
			return nil
		}

		// Full: sleep until the oldest stamp expires. Never hold the lock
		// across the wait.
		wait := r.stamps[0].Add(r.window).Sub(now)
		r.mu.Unlock()

		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// InFlight returns how many stamps are currently inside the window.
func (r *RateLimiter) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.window)
	n := 0
	for _, s := range r.stamps {
		if s.After(cutoff) {
			n++
		}
	}
	return n
}
