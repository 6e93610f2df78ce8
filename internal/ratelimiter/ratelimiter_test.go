package ratelimiter

import (
	"context"
	"testing"
	"time"
)

// TestAllow verifies the token bucket admits up to the burst and then
// rejects until tokens refill.
func TestAllow(t *testing.T) {
	limiter := New(10, 10)

	for i := 0; i < 10; i++ {
		if !limiter.Allow() {
			t.Fatalf("admission %d should be allowed (within burst)", i)
		}
	}

	if limiter.Allow() {
		t.Error("admission above burst should be rejected")
	}

	// One token refills after ~100ms at 10/s.
	time.Sleep(150 * time.Millisecond)
	if !limiter.Allow() {
		t.Error("admission should be allowed after refill")
	}
}

// TestAllowUnlimited verifies a zero rate disables limiting.
func TestAllowUnlimited(t *testing.T) {
	limiter := New(0, 0)

	for i := 0; i < 10000; i++ {
		if !limiter.Allow() {
			t.Fatalf("unlimited limiter rejected admission %d", i)
		}
	}
}

// TestAllowN verifies batch admission is all-or-nothing.
func TestAllowN(t *testing.T) {
	limiter := New(10, 10)

	if !limiter.AllowN(10) {
		t.Fatal("batch of 10 should fit in burst")
	}
	if limiter.AllowN(1) {
		t.Error("bucket should be empty after draining the burst")
	}
}

// TestWait verifies Wait respects context cancellation.
func TestWait(t *testing.T) {
	limiter := New(1, 1)

	// Drain the bucket.
	if !limiter.Allow() {
		t.Fatal("first admission should be allowed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := limiter.Wait(ctx); err == nil {
		t.Error("Wait should fail when the context expires before a token refills")
	}

	// With a fresh context, the token refills within a second.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	if err := limiter.Wait(ctx2); err != nil {
		t.Errorf("Wait should succeed after refill: %v", err)
	}
}
