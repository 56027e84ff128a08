package throttle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/gatewarden/gatewarden/internal/stores"
)

func newTestThrottle(t *testing.T, cfg Config) (*LoginThrottle, *stores.LoginAttemptStore) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	attempts := stores.NewLoginAttemptStore(rdb, "gw", 24*time.Hour, 1000)
	return New(attempts, cfg), attempts
}

func recordFailures(t *testing.T, attempts *stores.LoginAttemptStore, email, ip string, n int, at time.Time) {
	t.Helper()

	for i := 0; i < n; i++ {
		err := attempts.Record(context.Background(), stores.Attempt{
			Email:  email,
			IP:     ip,
			Reason: "password_mismatch",
			At:     at.Unix(),
		})
		if err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}
}

func TestCheckOpensUntilBudgetSpent(t *testing.T) {
	throttle, attempts := newTestThrottle(t, Config{MaxAttempts: 5, Window: 30 * time.Minute})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := throttle.Check(ctx, "alice@example.com", "10.0.0.1"); err != nil {
			t.Fatalf("check %d: %v", i+1, err)
		}
		recordFailures(t, attempts, "alice@example.com", "10.0.0.1", 1, time.Now())
	}

	if _, err := throttle.Check(ctx, "alice@example.com", "10.0.0.1"); err != nil {
		t.Fatalf("fifth check should still pass: %v", err)
	}

	recordFailures(t, attempts, "alice@example.com", "10.0.0.1", 1, time.Now())
	retry, err := throttle.Check(ctx, "alice@example.com", "10.0.0.1")
	if !errors.Is(err, ErrLimited) {
		t.Fatalf("expected ErrLimited, got %v", err)
	}
	if retry <= 0 || retry > 30*time.Minute {
		t.Fatalf("retry-after out of range: %v", retry)
	}
}

func TestEitherKeyTriggersLockout(t *testing.T) {
	throttle, attempts := newTestThrottle(t, Config{MaxAttempts: 3, Window: 30 * time.Minute})
	ctx := context.Background()

	// Spread failures for one email across many addresses.
	recordFailures(t, attempts, "alice@example.com", "10.0.0.1", 1, time.Now())
	recordFailures(t, attempts, "alice@example.com", "10.0.0.2", 1, time.Now())
	recordFailures(t, attempts, "alice@example.com", "10.0.0.3", 1, time.Now())

	if _, err := throttle.Check(ctx, "alice@example.com", "10.0.0.99"); !errors.Is(err, ErrLimited) {
		t.Fatalf("expected email-keyed lockout, got %v", err)
	}

	// The shared address is clean, so another email passes.
	if _, err := throttle.Check(ctx, "bob@example.com", "10.0.0.99"); err != nil {
		t.Fatalf("unrelated email locked out: %v", err)
	}
}

func TestRequireBothNeedsBothBudgets(t *testing.T) {
	throttle, attempts := newTestThrottle(t, Config{MaxAttempts: 3, Window: 30 * time.Minute, RequireBoth: true})
	ctx := context.Background()

	recordFailures(t, attempts, "alice@example.com", "10.0.0.1", 3, time.Now())

	// Email and address budgets are both spent for this pair.
	if _, err := throttle.Check(ctx, "alice@example.com", "10.0.0.1"); !errors.Is(err, ErrLimited) {
		t.Fatalf("expected lockout for the matching pair, got %v", err)
	}

	// Same email from a clean address passes under AND semantics.
	if _, err := throttle.Check(ctx, "alice@example.com", "10.0.0.99"); err != nil {
		t.Fatalf("expected pass with a clean address, got %v", err)
	}
}

func TestFailuresAgeOut(t *testing.T) {
	throttle, attempts := newTestThrottle(t, Config{MaxAttempts: 3, Window: 10 * time.Minute})
	ctx := context.Background()

	recordFailures(t, attempts, "alice@example.com", "10.0.0.1", 3, time.Now().Add(-20*time.Minute))

	if _, err := throttle.Check(ctx, "alice@example.com", "10.0.0.1"); err != nil {
		t.Fatalf("aged-out failures still count: %v", err)
	}
}

func TestSuccessesDoNotCount(t *testing.T) {
	throttle, attempts := newTestThrottle(t, Config{MaxAttempts: 2, Window: 30 * time.Minute})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := attempts.Record(context.Background(), stores.Attempt{
			Email:   "alice@example.com",
			IP:      "10.0.0.1",
			Success: true,
			At:      time.Now().Unix(),
		})
		if err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	if _, err := throttle.Check(ctx, "alice@example.com", "10.0.0.1"); err != nil {
		t.Fatalf("successes counted against the budget: %v", err)
	}
}

func TestRetryAfterTracksOldestFailure(t *testing.T) {
	throttle, attempts := newTestThrottle(t, Config{MaxAttempts: 2, Window: 30 * time.Minute})
	ctx := context.Background()

	recordFailures(t, attempts, "alice@example.com", "10.0.0.1", 1, time.Now().Add(-20*time.Minute))
	recordFailures(t, attempts, "alice@example.com", "10.0.0.1", 1, time.Now())

	retry, err := throttle.Check(ctx, "alice@example.com", "10.0.0.1")
	if !errors.Is(err, ErrLimited) {
		t.Fatalf("expected ErrLimited, got %v", err)
	}

	// The window reopens when the 20-minute-old failure ages out, about
	// 10 minutes from now.
	if retry < 9*time.Minute || retry > 11*time.Minute {
		t.Fatalf("retry-after should track the oldest failure, got %v", retry)
	}
}
