package ratelimit

import (
	"context"
	"time"
)

// Limiter applies a Class's policy to keys against a Store.
type Limiter struct {
	store Store
}

func NewLimiter(store Store) *Limiter {
	return &Limiter{store: store}
}

// Store exposes the backing counter store (the sweeper needs it).
func (l *Limiter) Store() Store {
	return l.store
}

// Allow spends one unit of the class's budget for key and reports the
// decision. The count is spent even when the request is rejected, so a
// caller hammering past the limit keeps the window loaded.
func (l *Limiter) Allow(ctx context.Context, class Class, key string) (Decision, error) {
	scoped := class.Name + ":" + key

	switch class.Algorithm {
	case SlidingWindow:
		count, oldest, err := l.store.AppendLog(ctx, scoped, class.Window)
		if err != nil {
			return Decision{}, err
		}
		return l.decide(class, count, oldest.Add(class.Window)), nil
	default:
		count, resetAt, err := l.store.IncrWindow(ctx, scoped, class.Window)
		if err != nil {
			return Decision{}, err
		}
		return l.decide(class, count, resetAt), nil
	}
}

// Refund returns one unit of budget previously spent by Allow. Used when
// a skip-successful/skip-failed policy decides the completed response's
// outcome should not count.
func (l *Limiter) Refund(ctx context.Context, class Class, key string) error {
	scoped := class.Name + ":" + key

	if class.Algorithm == SlidingWindow {
		return l.store.TrimNewest(ctx, scoped)
	}
	return l.store.DecrWindow(ctx, scoped)
}

func (l *Limiter) decide(class Class, count int64, resetAt time.Time) Decision {
	decision := Decision{
		Allowed: count <= int64(class.Max),
		Limit:   class.Max,
		ResetAt: resetAt,
	}

	if remaining := int64(class.Max) - count; remaining > 0 {
		decision.Remaining = int(remaining)
	}
	if !decision.Allowed {
		decision.RetryAfter = time.Until(resetAt)
		if decision.RetryAfter < time.Second {
			decision.RetryAfter = time.Second
		}
	}

	return decision
}
