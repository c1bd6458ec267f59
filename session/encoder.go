package session

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Record layout, fixed width so the Redis scripts can address fields by offset:
//
//	[0]      format version
//	[1:17]   identity id
//	[17:49]  secret hash
//	[49:57]  expires_at, unix millis, big endian
//	[57:65]  revoked_at, unix millis, big endian, 0 when unset
const (
	sessionFormatVersion = 1
	encodedLen           = 65

	offIdentity  = 1
	offHash      = 17
	offExpiresAt = 49
	offRevokedAt = 57
)

// ErrSessionCorrupt is returned when a stored record cannot be decoded.
var ErrSessionCorrupt = errors.New("session record corrupt")

// Encode serializes the persisted fields of s. The session id is the storage key
// and is not part of the record.
func Encode(s *Session) []byte {
	buf := make([]byte, encodedLen)
	buf[0] = sessionFormatVersion
	copy(buf[offIdentity:offHash], s.IdentityID[:])
	copy(buf[offHash:offExpiresAt], s.SecretHash[:])
	binary.BigEndian.PutUint64(buf[offExpiresAt:offRevokedAt], uint64(s.ExpiresAt.UnixMilli()))
	if s.RevokedAt != nil {
		binary.BigEndian.PutUint64(buf[offRevokedAt:], uint64(s.RevokedAt.UnixMilli()))
	}
	return buf
}

// Decode parses a record produced by Encode.
func Decode(id uuid.UUID, data []byte) (*Session, error) {
	if len(data) != encodedLen || data[0] != sessionFormatVersion {
		return nil, ErrSessionCorrupt
	}

	s := &Session{ID: id}
	copy(s.IdentityID[:], data[offIdentity:offHash])
	copy(s.SecretHash[:], data[offHash:offExpiresAt])
	s.ExpiresAt = time.UnixMilli(int64(binary.BigEndian.Uint64(data[offExpiresAt:offRevokedAt])))
	if revoked := int64(binary.BigEndian.Uint64(data[offRevokedAt:])); revoked != 0 {
		at := time.UnixMilli(revoked)
		s.RevokedAt = &at
	}
	return s, nil
}

func encodeMillis(t time.Time) string {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(t.UnixMilli()))
	return string(b[:])
}
