package vu

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// RateLimiter is a token bucket shared by every VU in a run, throttling the
// aggregate rate of operation dispatch to TargetRPS. There is nothing to cap
// per-VU here: within one VU operations run strictly in order, so only the
// cross-VU aggregate rate needs limiting.
type RateLimiter struct {
	targetRPS  atomic.Value
	tokens     float64
	maxTokens  float64
	lastRefill time.Time
	refillRate float64
	mu         sync.Mutex
	enabled    atomic.Bool
}

// NewRateLimiter creates a limiter targeting targetRPS. targetRPS <= 0
// disables limiting entirely.
func NewRateLimiter(targetRPS float64) *RateLimiter {
	r := &RateLimiter{}
	r.targetRPS.Store(targetRPS)
	r.UpdateTargetRPS(targetRPS)
	r.tokens = r.maxTokens
	return r
}

// Acquire blocks until a token is available or ctx is done.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	if !r.enabled.Load() {
		return nil
	}

	for {
		waitDuration, done := func() (time.Duration, bool) {
			r.mu.Lock()
			defer r.mu.Unlock()

			if !r.enabled.Load() {
				return 0, true
			}

			r.refill()

			if r.tokens >= 1 {
				r.tokens--
				return 0, true
			}

			wait := time.Duration(float64(time.Second) / r.refillRate)
			if wait < 100*time.Microsecond {
				wait = 100 * time.Microsecond
			}
			return wait, false
		}()

		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitDuration):
		}
	}
}

func (r *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(r.lastRefill).Seconds()
	r.lastRefill = now

	r.tokens += elapsed * r.refillRate
	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}
}

func (r *RateLimiter) TargetRPS() float64 { return r.targetRPS.Load().(float64) }
func (r *RateLimiter) Enabled() bool      { return r.enabled.Load() }

// UpdateTargetRPS retargets the limiter, e.g. when the engine advances to a
// new load stage.
func (r *RateLimiter) UpdateTargetRPS(targetRPS float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.targetRPS.Store(targetRPS)

	if targetRPS <= 0 {
		r.enabled.Store(false)
		return
	}

	r.enabled.Store(true)
	r.refillRate = targetRPS
	r.lastRefill = time.Now()

	maxTokens := targetRPS
	if maxTokens < 1 {
		maxTokens = 1
	}
	if maxTokens > 10000 {
		maxTokens = 10000
	}
	r.maxTokens = maxTokens
	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}
}
