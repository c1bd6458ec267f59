// Package session manages refresh sessions: issue, redeem-and-rotate, and revoke.
//
// A refresh token is "<session uuid>.<secret>" where secret is 64 random bytes,
// base64url without padding. Only HMAC-SHA256(secret) is persisted. Rotation
// keeps the session id and replaces the hash and expiry in one atomic step at
// the [Repository], so two concurrent refreshes with the same secret cannot
// both succeed.
//
// # Binary encoding
//
// [RedisRepository] stores a fixed-width record (see encoder.go) so the Lua
// scripts can compare and splice fields by offset.
//
// # What this package must NOT do
//
//   - Import authcore or jwt (no upward imports).
//   - Store plaintext secrets.
//   - Use the password hasher for refresh secrets.
package session
