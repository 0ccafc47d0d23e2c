// Package ratelimit provides the shared request-pacing governor used by all
// concurrent fetch operations in a sync run.
package ratelimit

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

const (
	DefaultBaseDelay = 20 * time.Millisecond
	DefaultMaxDelay  = 60 * time.Second
	DefaultJitter    = 0.5
)

// Budget paces outbound requests across every worker sharing it. Delays are
// randomized so the aggregate request pattern has no fixed interval, and the
// delay adapts to success/failure feedback: success snaps back to the base
// delay, rate limits back off exponentially, other errors back off on a
// milder curve.
type Budget struct {
	baseDelay time.Duration
	maxDelay  time.Duration
	jitter    float64

	mu                sync.Mutex
	currentDelay      time.Duration
	consecutiveErrors int
}

// New creates a Budget. A jitter of 0.5 means each wait is the current delay
// scaled by a random factor in [0.5, 1.5].
func New(base, max time.Duration, jitter float64) *Budget {
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if max <= 0 {
		max = DefaultMaxDelay
	}
	if jitter < 0 || jitter >= 1 {
		jitter = DefaultJitter
	}
	return &Budget{
		baseDelay:    base,
		maxDelay:     max,
		jitter:       jitter,
		currentDelay: base,
	}
}

// Wait sleeps for the current jittered delay or until ctx is done.
func (b *Budget) Wait(ctx context.Context) error {
	d := b.nextDelay()
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// nextDelay samples the jittered delay from the current state.
func (b *Budget) nextDelay() time.Duration {
	b.mu.Lock()
	d := b.currentDelay
	b.mu.Unlock()

	factor := 1 + b.jitter*(2*rand.Float64()-1)
	return time.Duration(float64(d) * factor)
}

// OnSuccess resets the delay to base and clears the error streak.
func (b *Budget) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.currentDelay = b.baseDelay
	b.consecutiveErrors = 0
}

// OnRateLimit records an explicit rate-limit signal. A server-specified
// retryAfter is adopted (capped at the max delay); otherwise the delay grows
// as base * 2^errors.
func (b *Budget) OnRateLimit(retryAfter time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveErrors++

	if retryAfter > 0 {
		b.currentDelay = min(retryAfter, b.maxDelay)
		return
	}
	b.currentDelay = b.backoff(2.0)
}

// OnError records a non-rate-limit failure. The curve is milder than the
// rate-limit one: base * 1.5^errors.
func (b *Budget) OnError() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveErrors++
	b.currentDelay = b.backoff(1.5)
}

// backoff computes the capped exponential delay. Caller holds b.mu.
func (b *Budget) backoff(factor float64) time.Duration {
	d := time.Duration(float64(b.baseDelay) * math.Pow(factor, float64(b.consecutiveErrors)))
	if d > b.maxDelay || d <= 0 {
		return b.maxDelay
	}
	return d
}

// CurrentDelay reports the un-jittered delay.
func (b *Budget) CurrentDelay() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentDelay
}

// Reset returns the budget to its initial state.
func (b *Budget) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.currentDelay = b.baseDelay
	b.consecutiveErrors = 0
}
