package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrSessionNotFound is returned when no record exists for the session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired is returned when the record's expiry has passed.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionRevoked is returned when the record carries a revoked_at mark.
	ErrSessionRevoked = errors.New("session revoked")
	// ErrRefreshHashMismatch is returned when the presented secret does not match.
	ErrRefreshHashMismatch = errors.New("refresh hash mismatch")
	// ErrStoreUnavailable wraps transport failures talking to the backing store.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// RotateRequest is a compare-and-swap of the secret hash of one session.
type RotateRequest struct {
	SessionID     uuid.UUID
	PresentedHash [32]byte
	NextHash      [32]byte
	NextExpiresAt time.Time
	Now           time.Time
	// RevokeOnMismatch marks a live session revoked when PresentedHash is wrong.
	RevokeOnMismatch bool
}

// Repository persists sessions. Rotate and Revoke must be atomic with respect
// to concurrent calls on the same session id.
type Repository interface {
	// Create stores a new session. now is the clock reading that produced
	// s.ExpiresAt.
	Create(ctx context.Context, s *Session, now time.Time) error
	Get(ctx context.Context, id uuid.UUID) (*Session, error)
	Rotate(ctx context.Context, req RotateRequest) (*RotateResult, error)
	Revoke(ctx context.Context, id uuid.UUID, now time.Time) (RevokeStatus, error)
}

const (
	rotateStatusNotFound    int64 = 0
	rotateStatusExpired     int64 = 1
	rotateStatusMismatch    int64 = 2
	rotateStatusRotated     int64 = 3
	rotateStatusInvalidBlob int64 = 4
	rotateStatusRevoked     int64 = 5
)

const luaHelpers = `
local function read_be64(s, i)
  local n = 0
  for k = i, i + 7 do
    local b = string.byte(s, k)
    if not b then
      return nil
    end
    n = n * 256 + b
  end
  return n
end

local function valid(data)
  return data and #data == 65 and string.byte(data, 1) == 1
end
`

// KEYS[1] session key
// ARGV[1] presented hash, ARGV[2] next hash, ARGV[3] now millis,
// ARGV[4] next expiry (8 bytes BE), ARGV[5] next key ttl millis,
// ARGV[6] revoke on mismatch flag, ARGV[7] now (8 bytes BE)
const rotateRefreshScript = luaHelpers + `
local data = redis.call("GET", KEYS[1])
if not data then
  return {0}
end
if not valid(data) then
  return {4}
end

if read_be64(data, 58) ~= 0 then
  return {5}
end
if read_be64(data, 50) <= tonumber(ARGV[3]) then
  return {1}
end

if string.sub(data, 18, 49) ~= ARGV[1] then
  if ARGV[6] == "1" then
    local ttl = redis.call("PTTL", KEYS[1])
    if ttl > 0 then
      redis.call("SET", KEYS[1], string.sub(data, 1, 57) .. ARGV[7], "PX", ttl)
    end
  end
  return {2}
end

local updated = string.sub(data, 1, 17) .. ARGV[2] .. ARGV[4] .. string.sub(data, 58)
redis.call("SET", KEYS[1], updated, "PX", ARGV[5])

return {3, updated}
`

var rotateRefreshLua = redis.NewScript(rotateRefreshScript)

// KEYS[1] session key
// ARGV[1] now millis, ARGV[2] now (8 bytes BE)
const revokeSessionScript = luaHelpers + `
local data = redis.call("GET", KEYS[1])
if not data then
  return 0
end
if not valid(data) then
  return 4
end
if read_be64(data, 58) ~= 0 then
  return 2
end

local status = 3
if read_be64(data, 50) <= tonumber(ARGV[1]) then
  status = 1
end

local ttl = redis.call("PTTL", KEYS[1])
if ttl > 0 then
  redis.call("SET", KEYS[1], string.sub(data, 1, 57) .. ARGV[2], "PX", ttl)
else
  redis.call("SET", KEYS[1], string.sub(data, 1, 57) .. ARGV[2])
end
return status
`

var revokeSessionLua = redis.NewScript(revokeSessionScript)

// RedisRepository stores each session as one fixed-width binary value.
// Rotation and revocation run as Lua scripts so each is a single atomic step.
//
// Keys expire RetainAfterExpiry past the session's own expiry, so revoked and
// expired records stay observable for a while before Redis drops them.
type RedisRepository struct {
	redis             redis.UniversalClient
	prefix            string
	retainAfterExpiry time.Duration
}

// NewRedisRepository creates a repository under the given key prefix.
func NewRedisRepository(rdb redis.UniversalClient, prefix string, retainAfterExpiry time.Duration) *RedisRepository {
	if prefix == "" {
		prefix = "ac:sess"
	}
	if retainAfterExpiry < 0 {
		retainAfterExpiry = 0
	}
	return &RedisRepository{
		redis:             rdb,
		prefix:            prefix,
		retainAfterExpiry: retainAfterExpiry,
	}
}

func (r *RedisRepository) key(id uuid.UUID) string {
	return r.prefix + ":" + id.String()
}

func (r *RedisRepository) keyTTL(expiresAt, now time.Time) time.Duration {
	ttl := expiresAt.Sub(now) + r.retainAfterExpiry
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	return ttl
}

// Create stores s. An existing record with the same id is an error.
func (r *RedisRepository) Create(ctx context.Context, s *Session, now time.Time) error {
	ok, err := r.redis.SetNX(ctx, r.key(s.ID), Encode(s), r.keyTTL(s.ExpiresAt, now)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !ok {
		return fmt.Errorf("session %s already exists", s.ID)
	}
	return nil
}

// Get loads a session regardless of its state.
func (r *RedisRepository) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	data, err := r.redis.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return Decode(id, data)
}

// Rotate swaps the secret hash and expiry when the presented hash matches
// a live session.
func (r *RedisRepository) Rotate(ctx context.Context, req RotateRequest) (*RotateResult, error) {
	revokeFlag := "0"
	if req.RevokeOnMismatch {
		revokeFlag = "1"
	}

	res, err := rotateRefreshLua.Run(ctx, r.redis, []string{r.key(req.SessionID)},
		string(req.PresentedHash[:]),
		string(req.NextHash[:]),
		strconv.FormatInt(req.Now.UnixMilli(), 10),
		encodeMillis(req.NextExpiresAt),
		strconv.FormatInt(r.keyTTL(req.NextExpiresAt, req.Now).Milliseconds(), 10),
		revokeFlag,
		encodeMillis(req.Now),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) == 0 {
		return nil, ErrSessionCorrupt
	}
	status, ok := values[0].(int64)
	if !ok {
		return nil, ErrSessionCorrupt
	}

	switch status {
	case rotateStatusNotFound:
		return nil, ErrSessionNotFound
	case rotateStatusExpired:
		return nil, ErrSessionExpired
	case rotateStatusRevoked:
		return nil, ErrSessionRevoked
	case rotateStatusMismatch:
		return nil, ErrRefreshHashMismatch
	case rotateStatusInvalidBlob:
		return nil, ErrSessionCorrupt
	case rotateStatusRotated:
		if len(values) < 2 {
			return nil, ErrSessionCorrupt
		}
		raw, ok := values[1].(string)
		if !ok {
			return nil, ErrSessionCorrupt
		}
		updated, err := Decode(req.SessionID, []byte(raw))
		if err != nil {
			return nil, err
		}
		return &RotateResult{IdentityID: updated.IdentityID, ExpiresAt: updated.ExpiresAt}, nil
	default:
		return nil, ErrSessionCorrupt
	}
}

// Revoke marks the session revoked at now. A session that is already revoked
// keeps its original revoked_at.
func (r *RedisRepository) Revoke(ctx context.Context, id uuid.UUID, now time.Time) (RevokeStatus, error) {
	status, err := revokeSessionLua.Run(ctx, r.redis, []string{r.key(id)},
		strconv.FormatInt(now.UnixMilli(), 10),
		encodeMillis(now),
	).Int64()
	if err != nil {
		return RevokeNotFound, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	switch status {
	case 0:
		return RevokeNotFound, nil
	case 1:
		return RevokeExpired, nil
	case 2:
		return RevokeAlreadyRevoked, nil
	case 3:
		return RevokeRevoked, nil
	default:
		return RevokeNotFound, ErrSessionCorrupt
	}
}
