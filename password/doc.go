// Package password hashes and verifies credentials with argon2id, using
// the standard PHC string encoding so parameters travel with the hash.
package password
