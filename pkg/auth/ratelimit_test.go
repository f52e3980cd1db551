package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInProcessLimiter_TierBudget(t *testing.T) {
	l := NewInProcessLimiter(map[string]TierConfig{"basic": {RequestsPerMinute: 2}}, 0)
	id := &Identity{Subject: "u1", ServiceTier: "basic"}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.Allow(ctx, id); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}
	if err := l.Allow(ctx, id); !errors.Is(err, ErrTooManyRequests) {
		t.Errorf("third request: err = %v, want ErrTooManyRequests", err)
	}

	// Other subjects have their own window.
	if err := l.Allow(ctx, &Identity{Subject: "u2", ServiceTier: "basic"}); err != nil {
		t.Errorf("other subject: %v", err)
	}
}

func TestInProcessLimiter_Unlimited(t *testing.T) {
	l := NewInProcessLimiter(nil, 0)
	id := &Identity{Subject: "u1"}
	for i := 0; i < 100; i++ {
		if err := l.Allow(context.Background(), id); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}
}

func TestInProcessLimiter_WindowResetAndSweep(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewInProcessLimiter(nil, 1)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	if err := l.Allow(ctx, &Identity{Subject: "u1"}); err != nil {
		t.Fatal(err)
	}
	if err := l.Allow(ctx, &Identity{Subject: "u1"}); !errors.Is(err, ErrTooManyRequests) {
		t.Fatalf("err = %v, want ErrTooManyRequests", err)
	}

	now = now.Add(2 * time.Minute)
	if err := l.Allow(ctx, &Identity{Subject: "u2"}); err != nil {
		t.Fatal(err)
	}
	if _, ok := l.counters["u1:default"]; ok {
		t.Error("expired u1 window should have been swept")
	}
	if err := l.Allow(ctx, &Identity{Subject: "u1"}); err != nil {
		t.Errorf("after window reset: %v", err)
	}
}
