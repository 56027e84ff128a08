// Package gatewarden is the access-control gate in front of an
// administrative API. For every inbound call it decides whether the caller
// holds a valid identity, whether that identity's session is still
// trustworthy, and whether the caller has exceeded its request budget.
//
// The package is designed for concurrent server workloads: Engine methods
// are safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// gatewarden is the public surface. It exposes [Engine], [Builder],
// [Config], and value types (AuthResult, LoginResult, SessionInfo, etc.).
// Durable record stores and the login throttle live under internal/ and
// are never exported; the token codec, session store, rate limiter,
// permission set, and HTTP middleware are public subpackages.
//
// Two collaborators are consumed, never owned: the [AccountStore], which
// answers identity lookups (the gate never writes accounts), and Redis,
// which backs every durable security record.
//
// # Failure posture
//
// Authentication-relevant reads fail closed: if the revocation list,
// session store, blocklist, or account store is unreachable, the request
// is rejected rather than silently admitted. Best-effort writes (attempt
// logging, session activity refresh, API key usage statistics, audit
// events) fail open: their errors are logged and never block a
// legitimate request.
package gatewarden
