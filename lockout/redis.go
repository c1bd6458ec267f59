package lockout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// KEYS[1] record key
// ARGV[1] now millis, ARGV[2] threshold, ARGV[3] locked_until millis if this
// failure locks, ARGV[4] record ttl millis
//
// Returns {failures, locked_until}; locked_until is "0" when unset.
const recordFailureScript = `
local failures = tonumber(redis.call("HGET", KEYS[1], "f") or "0")
local locked = redis.call("HGET", KEYS[1], "l") or "0"
local now = tonumber(ARGV[1])
local threshold = tonumber(ARGV[2])

if tonumber(locked) > now then
  return {failures, locked}
end

if failures < threshold then
  failures = failures + 1
end
if failures >= threshold then
  locked = ARGV[3]
end

redis.call("HSET", KEYS[1], "f", failures, "l", locked)
redis.call("PEXPIRE", KEYS[1], ARGV[4])
return {failures, locked}
`

var recordFailureLua = redis.NewScript(recordFailureScript)

// RedisStore keeps lockout records in Redis hashes so every instance sees
// the same counters. Each failure is one Lua script call.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore returns a store writing under prefix.
func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ac:lock"
	}
	return &RedisStore{redis: rdb, prefix: prefix}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + ":" + k
}

func (s *RedisStore) Get(ctx context.Context, key string) (Record, error) {
	vals, err := s.redis.HMGet(ctx, s.key(key), "f", "l").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, nil
		}
		return Record{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return parseRecord(vals[0], vals[1])
}

func (s *RedisStore) RecordFailure(ctx context.Context, u FailureUpdate) (Record, error) {
	res, err := recordFailureLua.Run(ctx, s.redis, []string{s.key(u.Key)},
		strconv.FormatInt(u.Now.UnixMilli(), 10),
		strconv.Itoa(u.Threshold),
		strconv.FormatInt(u.Now.Add(u.LockFor).UnixMilli(), 10),
		strconv.FormatInt(u.TTL.Milliseconds(), 10),
	).Slice()
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(res) != 2 {
		return Record{}, fmt.Errorf("%w: unexpected script reply", ErrStoreUnavailable)
	}
	return parseRecord(res[0], res[1])
}

func (s *RedisStore) Reset(ctx context.Context, keys ...string) error {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	if err := s.redis.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func parseRecord(failures, lockedUntil interface{}) (Record, error) {
	var rec Record
	f, err := toInt64(failures)
	if err != nil {
		return Record{}, err
	}
	l, err := toInt64(lockedUntil)
	if err != nil {
		return Record{}, err
	}
	rec.Failures = int(f)
	if l > 0 {
		rec.LockedUntil = time.UnixMilli(l)
	}
	return rec, nil
}

func toInt64(v interface{}) (int64, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return t, nil
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: bad counter value %q", ErrStoreUnavailable, t)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: unexpected counter type %T", ErrStoreUnavailable, v)
	}
}
