package memory

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestRateLimiterBlocksFourthJoinInWindow(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	limiter := NewRateLimiter(clock)

	for i := 1; i <= 3; i++ {
		verdict, err := limiter.Check(ctx, "join:10.0.0.1", 3, time.Minute)
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if !verdict.Allowed || verdict.Remaining != 3-i {
			t.Fatalf("attempt %d: unexpected verdict %+v", i, verdict)
		}
		clock.Advance(5 * time.Second)
	}

	verdict, _ := limiter.Check(ctx, "join:10.0.0.1", 3, time.Minute)
	if verdict.Allowed {
		t.Fatalf("expected 4th attempt blocked")
	}
	if verdict.ResetIn <= 0 || verdict.ResetIn > 60 {
		t.Fatalf("expected resetIn within the window, got %d", verdict.ResetIn)
	}
	if verdict.ResetIn != 45 {
		t.Fatalf("expected 45s left in the window, got %d", verdict.ResetIn)
	}

	other, _ := limiter.Check(ctx, "join:10.0.0.2", 3, time.Minute)
	if !other.Allowed {
		t.Fatalf("expected independent key to be allowed")
	}
}

func TestRateLimiterWindowResetsFully(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	limiter := NewRateLimiter(clock)

	for i := 0; i < 2; i++ {
		_, _ = limiter.Check(ctx, "k", 2, 10*time.Second)
	}
	if verdict, _ := limiter.Check(ctx, "k", 2, 10*time.Second); verdict.Allowed {
		t.Fatalf("expected limit reached")
	}

	clock.Advance(10 * time.Second)
	verdict, _ := limiter.Check(ctx, "k", 2, 10*time.Second)
	if !verdict.Allowed || verdict.Remaining != 1 {
		t.Fatalf("expected fresh window, got %+v", verdict)
	}
}

func TestRateLimiterReset(t *testing.T) {
	ctx := context.Background()
	limiter := NewRateLimiter(clockwork.NewFakeClock())

	_, _ = limiter.Check(ctx, "k", 1, time.Minute)
	if verdict, _ := limiter.Check(ctx, "k", 1, time.Minute); verdict.Allowed {
		t.Fatalf("expected blocked")
	}
	if err := limiter.Reset(ctx, "k"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if verdict, _ := limiter.Check(ctx, "k", 1, time.Minute); !verdict.Allowed {
		t.Fatalf("expected allowed after reset")
	}
}
