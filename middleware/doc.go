// Package middleware exposes HTTP adapters over the gatewarden Engine.
//
// # Guards
//
//   - [Guard]: bearer-token authentication, rejects on any pipeline failure.
//   - [OptionalGuard]: same pipeline, proceeds anonymously on failure.
//   - [RequireAPIKey]: X-Api-Key verification, the session-independent path.
//   - [RequirePermission]: permission check over an already-attached result.
//   - [RateLimit]: per-route-class request budgets with quota headers.
//
// Each guard reads the relevant credential header, delegates the decision
// to the Engine, and attaches the result to the request context.
//
// This package translates HTTP semantics into Engine calls; it does not
// implement authentication or counting logic itself.
package middleware
