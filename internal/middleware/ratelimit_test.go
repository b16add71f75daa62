package middleware

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestRateLimiterAllow(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	rl := NewRateLimiter(3, time.Minute, clock)

	for i := 0; i < 3; i++ {
		if !rl.Allow("student:7") {
			t.Fatalf("request %d rejected within budget", i+1)
		}
	}
	if rl.Allow("student:7") {
		t.Fatal("fourth request within the interval must be rejected")
	}
	if !rl.Allow("student:8") {
		t.Fatal("buckets are per caller")
	}

	clock.Advance(time.Minute)
	if !rl.Allow("student:7") {
		t.Fatal("bucket must refill after the interval")
	}
}

func TestRateLimiterSweep(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	rl := NewRateLimiter(1, time.Second, clock)

	rl.Allow("ip:10.0.0.1")
	clock.Advance(2 * time.Minute)
	rl.Allow("ip:10.0.0.2")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.visitors["ip:10.0.0.1"]; ok {
		t.Error("stale visitor survived the sweep")
	}
	if len(rl.visitors) != 1 {
		t.Errorf("visitors = %d, want 1", len(rl.visitors))
	}
}
