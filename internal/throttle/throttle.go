// Package throttle decides whether a login request may be evaluated at
// all, based on recent failed attempts for the submitted email and the
// caller's source address. It sits in front of the login endpoint only,
// not the general authentication gate.
package throttle

import (
	"context"
	"errors"
	"time"

	"github.com/gatewarden/gatewarden/internal/stores"
)

// ErrLimited is returned when the failure budget is exhausted. Credentials
// must not be consulted once it fires, so a locked-out caller learns
// nothing about credential validity from response timing.
var ErrLimited = errors.New("too many login attempts")

// Config tunes the throttle.
type Config struct {
	// MaxAttempts is the failure count at which logins are rejected.
	MaxAttempts int
	// Window is the lookback interval for counting failures and the
	// lockout duration once the budget is exhausted.
	Window time.Duration
	// RequireBoth switches the dual-key match from either-exceeds to
	// both-exceed. The default (false) locks when the email OR the source
	// address has exhausted its budget, which can lock out unrelated
	// callers behind a shared NAT address.
	RequireBoth bool
}

// LoginThrottle is the policy layer over the login-attempt store.
type LoginThrottle struct {
	attempts *stores.LoginAttemptStore
	config   Config
}

func New(attempts *stores.LoginAttemptStore, cfg Config) *LoginThrottle {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = 30 * time.Minute
	}
	return &LoginThrottle{attempts: attempts, config: cfg}
}

// Check returns ErrLimited with a positive retry-after when the failure
// budget for email/ip is exhausted. Backend read failures propagate so the
// caller can fail closed.
func (t *LoginThrottle) Check(ctx context.Context, email, ip string) (time.Duration, error) {
	emailCount, ipCount, err := t.attempts.FailureCounts(ctx, email, ip, t.config.Window)
	if err != nil {
		return 0, err
	}

	max := int64(t.config.MaxAttempts)
	limited := emailCount >= max || ipCount >= max
	if t.config.RequireBoth {
		limited = emailCount >= max && ipCount >= max
	}
	if !limited {
		return 0, nil
	}

	return t.retryAfter(ctx, email, ip), ErrLimited
}

// retryAfter estimates the remaining lockout: the window re-opens once the
// oldest in-window failure ages out.
func (t *LoginThrottle) retryAfter(ctx context.Context, email, ip string) time.Duration {
	oldest, ok, err := t.attempts.OldestFailure(ctx, email, ip, t.config.Window)
	if err != nil || !ok {
		return t.config.Window
	}

	remaining := time.Until(oldest.Add(t.config.Window))
	if remaining < time.Second {
		remaining = time.Second
	}
	return remaining
}
