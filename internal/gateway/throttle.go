package gateway

import (
	"context"
	"sync"
	"time"
)

// throttle is a process-wide token bucket that keeps the outgoing request
// rate under the provider's advertised limit. One bucket per gateway; its
// state spans the whole run.
type throttle struct {
	capacity   float64 // burst capacity
	refillRate float64 // tokens per second
	tokens     float64
	lastRefill time.Time
	mu         sync.Mutex
}

// newThrottle builds a bucket permitting requestsPerMinute sustained, with
// burst capacity equal to the per-minute limit's per-burst share. A zero or
// negative rate disables throttling.
func newThrottle(requestsPerMinute int, burst int) *throttle {
	if requestsPerMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &throttle{
		capacity:   float64(burst),
		refillRate: float64(requestsPerMinute) / 60.0,
		tokens:     float64(burst),
		lastRefill: time.Now(),
	}
}

// wait blocks until a token is available or the context is canceled.
// A nil throttle never blocks.
func (t *throttle) wait(ctx context.Context) error {
	if t == nil {
		return nil
	}

	for {
		t.mu.Lock()
		now := time.Now()
		t.tokens += now.Sub(t.lastRefill).Seconds() * t.refillRate
		if t.tokens > t.capacity {
			t.tokens = t.capacity
		}
		t.lastRefill = now

		if t.tokens >= 1.0 {
			t.tokens -= 1.0
			t.mu.Unlock()
			return nil
		}

		needed := (1.0 - t.tokens) / t.refillRate
		t.mu.Unlock()

		timer := time.NewTimer(time.Duration(needed * float64(time.Second)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
