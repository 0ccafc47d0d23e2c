package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestBackoffShape(t *testing.T) {
	base := 100 * time.Millisecond
	b := New(base, 60*time.Second, 0.5)

	want := []time.Duration{base * 2, base * 4, base * 8}
	for i, w := range want {
		b.OnRateLimit(0)
		if got := b.CurrentDelay(); got != w {
			t.Errorf("after %d rate limits: delay = %s, want %s", i+1, got, w)
		}
	}

	b.OnSuccess()
	if got := b.CurrentDelay(); got != base {
		t.Errorf("after success: delay = %s, want %s", got, base)
	}
}

func TestBackoffCappedAtMax(t *testing.T) {
	base := 1 * time.Second
	max := 5 * time.Second
	b := New(base, max, 0.5)

	for i := 0; i < 10; i++ {
		b.OnRateLimit(0)
	}
	if got := b.CurrentDelay(); got != max {
		t.Errorf("delay = %s, want capped at %s", got, max)
	}
}

func TestRetryAfterAdopted(t *testing.T) {
	b := New(100*time.Millisecond, 60*time.Second, 0.5)

	b.OnRateLimit(3 * time.Second)
	if got := b.CurrentDelay(); got != 3*time.Second {
		t.Errorf("delay = %s, want server-specified 3s", got)
	}

	// Server-specified delays are still capped.
	b.OnRateLimit(10 * time.Minute)
	if got := b.CurrentDelay(); got != 60*time.Second {
		t.Errorf("delay = %s, want capped at 60s", got)
	}
}

func TestErrorCurveMilderThanRateLimit(t *testing.T) {
	base := 100 * time.Millisecond
	rl := New(base, 60*time.Second, 0.5)
	generic := New(base, 60*time.Second, 0.5)

	for i := 0; i < 3; i++ {
		rl.OnRateLimit(0)
		generic.OnError()
	}

	if generic.CurrentDelay() >= rl.CurrentDelay() {
		t.Errorf("generic error delay %s should be below rate-limit delay %s",
			generic.CurrentDelay(), rl.CurrentDelay())
	}
	if generic.CurrentDelay() <= base {
		t.Errorf("generic error delay %s should still grow above base %s",
			generic.CurrentDelay(), base)
	}
}

func TestJitterBounds(t *testing.T) {
	base := 100 * time.Millisecond
	b := New(base, 60*time.Second, 0.5)

	lo := time.Duration(float64(base) * 0.5)
	hi := time.Duration(float64(base) * 1.5)
	for i := 0; i < 200; i++ {
		d := b.nextDelay()
		if d < lo || d > hi {
			t.Fatalf("jittered delay %s outside [%s, %s]", d, lo, hi)
		}
	}
}

func TestWaitHonorsContext(t *testing.T) {
	b := New(10*time.Second, 60*time.Second, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := b.Wait(ctx)
	if err == nil {
		t.Fatal("expected context error from Wait")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Wait did not return promptly after cancellation: %s", elapsed)
	}
}

func TestConcurrentFeedback(t *testing.T) {
	b := New(10*time.Millisecond, time.Second, 0.5)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				switch (n + j) % 3 {
				case 0:
					b.OnSuccess()
				case 1:
					b.OnRateLimit(0)
				default:
					b.OnError()
				}
				_ = b.CurrentDelay()
			}
		}(i)
	}
	wg.Wait()

	if d := b.CurrentDelay(); d < 10*time.Millisecond || d > time.Second {
		t.Errorf("delay %s escaped [base, max] under concurrent mutation", d)
	}
}
