package notification

import (
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestTokenBucketRateLimiter_Allow(t *testing.T) {
	type op struct {
		advance   time.Duration
		wantAllow bool
	}

	tests := []struct {
		name       string
		capacity   int
		refillRate time.Duration
		operations []op
	}{
		{
			name:       "allow up to capacity immediately",
			capacity:   3,
			refillRate: time.Hour,
			operations: []op{
				{wantAllow: true},
				{wantAllow: true},
				{wantAllow: true},
				{wantAllow: false},
			},
		},
		{
			name:       "refill allows more operations",
			capacity:   2,
			refillRate: 100 * time.Millisecond,
			operations: []op{
				{wantAllow: true},
				{wantAllow: true},
				{wantAllow: false},
				{advance: 150 * time.Millisecond, wantAllow: true},
				{wantAllow: false},
				// The partial period carried over from the last refill counts.
				{advance: 50 * time.Millisecond, wantAllow: true},
			},
		},
		{
			name:       "zero capacity always denies",
			capacity:   0,
			refillRate: time.Millisecond,
			operations: []op{
				{wantAllow: false},
				{advance: 10 * time.Millisecond, wantAllow: false},
			},
		},
		{
			name:       "no refill rate never refills",
			capacity:   1,
			refillRate: 0,
			operations: []op{
				{wantAllow: true},
				{advance: time.Hour, wantAllow: false},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			limiter := newTokenBucketRateLimiter(tt.capacity, tt.refillRate, clock.Now)

			for i, o := range tt.operations {
				clock.Advance(o.advance)

				got := limiter.Allow()
				if got != o.wantAllow {
					t.Errorf("operation[%d]: Allow() = %v, want %v", i, got, o.wantAllow)
				}
			}
		})
	}
}

func TestTokenBucketRateLimiter_RefillCapped(t *testing.T) {
	clock := newFakeClock()
	limiter := newTokenBucketRateLimiter(2, 50*time.Millisecond, clock.Now)

	limiter.Allow()
	limiter.Allow()

	// Four refill periods, but only capacity tokens come back.
	clock.Advance(200 * time.Millisecond)

	if !limiter.Allow() {
		t.Error("Expected Allow() = true after refill")
	}
	if !limiter.Allow() {
		t.Error("Expected Allow() = true for second token")
	}
	if limiter.Allow() {
		t.Error("Expected Allow() = false, tokens should be capped at capacity")
	}
}

func TestTokenBucketRateLimiter_Reset(t *testing.T) {
	limiter := NewTokenBucketRateLimiter(1, time.Hour)

	if !limiter.Allow() {
		t.Fatal("Expected first Allow() = true")
	}
	if limiter.Allow() {
		t.Fatal("Expected second Allow() = false")
	}

	limiter.Reset()
	if !limiter.Allow() {
		t.Error("Expected Allow() = true after Reset")
	}
}

func TestTokenBucketRateLimiter_Concurrent(t *testing.T) {
	capacity := 100
	limiter := NewTokenBucketRateLimiter(capacity, time.Hour)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)

	for i := 0; i < capacity*2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Allow() {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != capacity {
		t.Errorf("Concurrent Allow() count = %d, want %d", allowed, capacity)
	}
}
