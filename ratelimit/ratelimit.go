package ratelimit

import (
	"context"
	"time"
)

// Algorithm selects the counting strategy for a route class.
type Algorithm int

const (
	// FixedWindow resets the counter at fixed intervals.
	FixedWindow Algorithm = iota
	// SlidingWindow counts only events inside a moving trailing interval.
	SlidingWindow
)

// KeySource names how the limiter key is derived from a request.
type KeySource string

const (
	// KeyByIP keys on the caller's source address (the default).
	KeyByIP KeySource = "ip"
	// KeyByIdentity keys on the authenticated identity id.
	KeyByIdentity KeySource = "identity"
	// KeyByRole keys on the authenticated role, giving e.g. a privileged
	// role a shared higher ceiling.
	KeyByRole KeySource = "role"
	// KeyByAPIKey keys on the presented API key id.
	KeyByAPIKey KeySource = "apikey"
)

// Class is one route class's budget policy.
type Class struct {
	Name      string
	Window    time.Duration
	Max       int
	Algorithm Algorithm
	KeyBy     KeySource

	// SkipSuccessful / SkipFailed refund the count once the response
	// outcome is known, so only the interesting outcome spends budget
	// (e.g. a login class that counts only failures).
	SkipSuccessful bool
	SkipFailed     bool
}

// Decision is the outcome of one budget check. Limit/Remaining/ResetAt
// feed the quota headers emitted on every gated response.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Store is the counter backend shared by both algorithms.
type Store interface {
	// IncrWindow advances the fixed-window counter for key, starting a
	// fresh window when the previous one has lapsed.
	IncrWindow(ctx context.Context, key string, window time.Duration) (count int64, resetAt time.Time, err error)
	// DecrWindow undoes one IncrWindow for outcome-based refunds.
	DecrWindow(ctx context.Context, key string) error

	// AppendLog appends the current instant to key's sliding log, prunes
	// entries older than the window, and returns the in-window count and
	// the oldest surviving timestamp.
	AppendLog(ctx context.Context, key string, window time.Duration) (count int64, oldest time.Time, err error)
	// TrimNewest removes the most recent log entry for outcome refunds.
	TrimNewest(ctx context.Context, key string) error
}

// DefaultClasses returns the route classes recognized by the gate's
// configuration surface, with their conventional budgets.
func DefaultClasses() map[string]Class {
	return map[string]Class{
		"login":          {Name: "login", Window: 15 * time.Minute, Max: 10, Algorithm: SlidingWindow, KeyBy: KeyByIP},
		"password-reset": {Name: "password-reset", Window: time.Hour, Max: 5, Algorithm: SlidingWindow, KeyBy: KeyByIP},
		"api":            {Name: "api", Window: time.Minute, Max: 120, Algorithm: FixedWindow, KeyBy: KeyByIP},
		"upload":         {Name: "upload", Window: time.Hour, Max: 50, Algorithm: FixedWindow, KeyBy: KeyByIdentity},
		"search":         {Name: "search", Window: time.Minute, Max: 30, Algorithm: FixedWindow, KeyBy: KeyByIdentity},
		"export":         {Name: "export", Window: time.Hour, Max: 10, Algorithm: FixedWindow, KeyBy: KeyByIdentity},
		"email":          {Name: "email", Window: time.Hour, Max: 20, Algorithm: FixedWindow, KeyBy: KeyByIdentity},
		"dashboard":      {Name: "dashboard", Window: 10 * time.Second, Max: 60, Algorithm: FixedWindow, KeyBy: KeyByIdentity},
	}
}
