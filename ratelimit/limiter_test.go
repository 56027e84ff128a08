package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func fixedClass(window time.Duration, max int) Class {
	return Class{Name: "t-fixed", Window: window, Max: max, Algorithm: FixedWindow}
}

func slidingClass(window time.Duration, max int) Class {
	return Class{Name: "t-sliding", Window: window, Max: max, Algorithm: SlidingWindow}
}

func TestFixedWindowBudget(t *testing.T) {
	limiter := NewLimiter(NewMemoryStore())
	class := fixedClass(time.Minute, 5)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		decision, err := limiter.Allow(ctx, class, "1.2.3.4")
		require.NoError(t, err)
		require.True(t, decision.Allowed, "request %d should pass", i+1)
		require.Equal(t, 5, decision.Limit)
		require.Equal(t, 4-i, decision.Remaining)
	}

	decision, err := limiter.Allow(ctx, class, "1.2.3.4")
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Zero(t, decision.Remaining)
	require.GreaterOrEqual(t, decision.RetryAfter, time.Second)

	// A different key has its own budget.
	other, err := limiter.Allow(ctx, class, "5.6.7.8")
	require.NoError(t, err)
	require.True(t, other.Allowed)
}

func TestFixedWindowResets(t *testing.T) {
	limiter := NewLimiter(NewMemoryStore())
	class := fixedClass(50*time.Millisecond, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		decision, err := limiter.Allow(ctx, class, "k")
		require.NoError(t, err)
		require.True(t, decision.Allowed)
	}
	decision, err := limiter.Allow(ctx, class, "k")
	require.NoError(t, err)
	require.False(t, decision.Allowed)

	time.Sleep(70 * time.Millisecond)

	decision, err = limiter.Allow(ctx, class, "k")
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.Equal(t, 1, decision.Remaining)
}

func TestSlidingWindowTrailing(t *testing.T) {
	limiter := NewLimiter(NewMemoryStore())
	class := slidingClass(100*time.Millisecond, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		decision, err := limiter.Allow(ctx, class, "k")
		require.NoError(t, err)
		require.True(t, decision.Allowed)
	}
	decision, err := limiter.Allow(ctx, class, "k")
	require.NoError(t, err)
	require.False(t, decision.Allowed)

	// Once the events age past the trailing window the budget reopens.
	time.Sleep(120 * time.Millisecond)

	decision, err = limiter.Allow(ctx, class, "k")
	require.NoError(t, err)
	require.True(t, decision.Allowed)
}

func TestRejectedRequestsKeepWindowLoaded(t *testing.T) {
	limiter := NewLimiter(NewMemoryStore())
	class := slidingClass(time.Minute, 2)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		limiter.Allow(ctx, class, "k")
	}

	decision, err := limiter.Allow(ctx, class, "k")
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Zero(t, decision.Remaining)
}

func TestRefundFixedWindow(t *testing.T) {
	limiter := NewLimiter(NewMemoryStore())
	class := fixedClass(time.Minute, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		decision, err := limiter.Allow(ctx, class, "k")
		require.NoError(t, err)
		require.True(t, decision.Allowed)
		require.NoError(t, limiter.Refund(ctx, class, "k"))
	}

	// Every spend was refunded, so the budget is still full.
	decision, err := limiter.Allow(ctx, class, "k")
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.Equal(t, 1, decision.Remaining)
}

func TestRefundSlidingWindow(t *testing.T) {
	limiter := NewLimiter(NewMemoryStore())
	class := slidingClass(time.Minute, 1)
	ctx := context.Background()

	decision, err := limiter.Allow(ctx, class, "k")
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	require.NoError(t, limiter.Refund(ctx, class, "k"))

	decision, err = limiter.Allow(ctx, class, "k")
	require.NoError(t, err)
	require.True(t, decision.Allowed)
}

func TestClassesDoNotShareKeys(t *testing.T) {
	limiter := NewLimiter(NewMemoryStore())
	ctx := context.Background()

	a := fixedClass(time.Minute, 1)
	b := Class{Name: "t-other", Window: time.Minute, Max: 1, Algorithm: FixedWindow}

	decision, err := limiter.Allow(ctx, a, "k")
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	decision, err = limiter.Allow(ctx, b, "k")
	require.NoError(t, err)
	require.True(t, decision.Allowed, "same key in another class must not share budget")
}

func TestRedisStoreFixedWindow(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := NewLimiter(NewRedisStore(rdb, "gw"))
	class := fixedClass(time.Minute, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		decision, err := limiter.Allow(ctx, class, "1.2.3.4")
		require.NoError(t, err)
		require.True(t, decision.Allowed)
	}
	decision, err := limiter.Allow(ctx, class, "1.2.3.4")
	require.NoError(t, err)
	require.False(t, decision.Allowed)

	require.NoError(t, limiter.Refund(ctx, class, "1.2.3.4"))
	decision, err = limiter.Allow(ctx, class, "1.2.3.4")
	require.NoError(t, err)
	require.False(t, decision.Allowed, "refund then spend lands back at the limit")
}

func TestRedisStoreSlidingWindow(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := NewLimiter(NewRedisStore(rdb, "gw"))
	class := slidingClass(time.Minute, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		decision, err := limiter.Allow(ctx, class, "k")
		require.NoError(t, err)
		require.True(t, decision.Allowed)
	}
	decision, err := limiter.Allow(ctx, class, "k")
	require.NoError(t, err)
	require.False(t, decision.Allowed)

	require.NoError(t, limiter.Refund(ctx, class, "k"))
	decision, err = limiter.Allow(ctx, class, "k")
	require.NoError(t, err)
	require.False(t, decision.Allowed, "the rejected append still occupies the log")
}

func TestMemorySweep(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.IncrWindow(ctx, "w", 10*time.Millisecond)
	store.AppendLog(ctx, "l", 10*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	store.Sweep(10 * time.Millisecond)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Empty(t, store.windows)
	require.Empty(t, store.logs)
}
