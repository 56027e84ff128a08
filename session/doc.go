// Package session persists the durable session records behind the
// authentication gate.
//
// A session binds the SHA-256 hash of a bearer token to an identity,
// together with its own active flag, expiry, and last-activity timestamp.
// The token itself is never stored; lookups hash the presented token and
// fetch by hash. Records are physically purged by backend TTL once the
// expiry plus a retention window has lapsed.
package session
