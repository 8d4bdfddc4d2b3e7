package remote

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestInMemoryRateLimiterBurst(t *testing.T) {
	l := NewInMemoryRateLimiter(0.001, 2)
	ctx := context.Background()
	if !l.Allow(ctx, "a") || !l.Allow(ctx, "a") {
		t.Fatalf("expected burst of two to pass")
	}
	if l.Allow(ctx, "a") {
		t.Fatalf("expected third request to be limited")
	}
	if !l.Allow(ctx, "b") {
		t.Fatalf("expected another key to pass")
	}
	if n := l.Sweep(); n != 0 {
		t.Fatalf("expected no idle limiters, got %d", n)
	}
}

func TestRedisRateLimiterWindow(t *testing.T) {
	s := miniredis.RunT(t)
	ctx := context.Background()
	l, err := NewRedisRateLimiter(ctx, "redis://"+s.Addr(), 2, nil)
	if err != nil {
		t.Fatalf("NewRedisRateLimiter failed: %v", err)
	}
	defer l.Close()
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	if !l.Allow(ctx, "user") || !l.Allow(ctx, "user") {
		t.Fatalf("expected two requests to pass")
	}
	if l.Allow(ctx, "user") {
		t.Fatalf("expected third request in the window to be limited")
	}
	if !l.Allow(ctx, "other") {
		t.Fatalf("expected another key to pass")
	}

	now = now.Add(time.Second)
	if !l.Allow(ctx, "user") {
		t.Fatalf("expected a new window to reset the count")
	}
}

func TestRedisRateLimiterFailsOpen(t *testing.T) {
	s := miniredis.RunT(t)
	ctx := context.Background()
	l, err := NewRedisRateLimiter(ctx, "redis://"+s.Addr(), 1, nil)
	if err != nil {
		t.Fatalf("NewRedisRateLimiter failed: %v", err)
	}
	defer l.Close()
	s.Close()
	if !l.Allow(ctx, "user") {
		t.Fatalf("expected requests to pass while redis is down")
	}
}

func TestRedisRateLimiterBadURL(t *testing.T) {
	if _, err := NewRedisRateLimiter(context.Background(), "not a url", 1, nil); err == nil {
		t.Fatalf("expected parse error")
	}
}
