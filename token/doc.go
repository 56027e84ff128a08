// Package token is the bearer-token codec: it signs and verifies the opaque
// tokens carried on the Authorization header.
//
// The codec is thin. It knows about an identity id, a session
// id, and an expiry claim, nothing else. Signing algorithm internals are
// delegated to github.com/golang-jwt/jwt/v5; verification failures are
// classified only as expired vs invalid, which is all the gate needs.
package token
