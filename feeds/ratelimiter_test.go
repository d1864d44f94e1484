package feeds

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiterAdmitsUpToLimit(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := rl.Acquire(ctx); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if got := rl.InFlight(); got != 3 {
		t.Errorf("expected 3 in flight, got %d", got)
	}
}

func TestRateLimiterBlocksUntilWindowSlides(t *testing.T) {
	base := time.Now()
	current := base
	rl := NewRateLimiter(2, 50*time.Millisecond)
	rl.now = func() time.Time { return current }

	ctx := context.Background()
	if err := rl.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	if err := rl.Acquire(ctx); err != nil {
		t.Fatal(err)
	}

	// Third caller must wait for the oldest stamp to expire. Advance the
	// clock past the window before the real-time sleep finishes.
	done := make(chan error, 1)
	go func() { done <- rl.Acquire(ctx) }()

	time.Sleep(10 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("acquire returned before window slid")
	default:
	}

	current = base.Add(60 * time.Millisecond)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("acquire after slide: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("acquire never unblocked")
	}
}

func TestRateLimiterHonorsContextCancel(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour)

	if err := rl.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rl.Acquire(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("acquire ignored cancellation")
	}
}

func TestRateLimiterPurgesExpiredStamps(t *testing.T) {
	base := time.Now()
	current := base
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return current }

	ctx := context.Background()
	rl.Acquire(ctx)
	rl.Acquire(ctx)

	current = base.Add(2 * time.Minute)
	if got := rl.InFlight(); got != 0 {
		t.Errorf("expected 0 in flight after window, got %d", got)
	}
	if err := rl.Acquire(ctx); err != nil {
		t.Fatalf("acquire after purge: %v", err)
	}
}
