package session

import (
	"time"

	"github.com/google/uuid"
)

// Session is a refresh-session record. Only the keyed hash of the refresh
// secret is kept; the plaintext leaves the process once, inside a [Token].
type Session struct {
	ID         uuid.UUID
	IdentityID uuid.UUID
	SecretHash [32]byte
	ExpiresAt  time.Time
	RevokedAt  *time.Time
}

// Usable reports whether s can still be redeemed at now.
func (s *Session) Usable(now time.Time) bool {
	return s != nil && s.RevokedAt == nil && s.ExpiresAt.After(now)
}

// RotateResult is what a repository reports back from a successful rotation.
type RotateResult struct {
	IdentityID uuid.UUID
	ExpiresAt  time.Time
}

// RevokeStatus describes the state a session was in when Revoke reached it.
type RevokeStatus uint8

const (
	// RevokeNotFound means no record exists for the id.
	RevokeNotFound RevokeStatus = iota
	// RevokeExpired means the record had already expired; it is now marked revoked.
	RevokeExpired
	// RevokeAlreadyRevoked means an earlier revoke won; revoked_at is unchanged.
	RevokeAlreadyRevoked
	// RevokeRevoked means a live session was revoked by this call.
	RevokeRevoked
)

// WasUsable reports whether the session was live right before the revoke.
func (s RevokeStatus) WasUsable() bool {
	return s == RevokeRevoked
}
