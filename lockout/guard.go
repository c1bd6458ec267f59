package lockout

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrLocked is returned by Check while any of the keys is locked.
	ErrLocked = errors.New("locked out")
	// ErrStoreUnavailable wraps failures of the backing counter store.
	ErrStoreUnavailable = errors.New("lockout store unavailable")
)

// Kind distinguishes the two granularities a guard tracks.
type Kind uint8

const (
	KindAccount Kind = iota + 1
	KindAddress
)

func (k Kind) String() string {
	switch k {
	case KindAccount:
		return "acct"
	case KindAddress:
		return "addr"
	default:
		return "unknown"
	}
}

// Key identifies one counter.
type Key struct {
	Kind Kind
	ID   string
}

// AccountKey keys a counter by normalized account email.
func AccountKey(email string) Key {
	return Key{Kind: KindAccount, ID: strings.ToLower(strings.TrimSpace(email))}
}

// AddressKey keys a counter by originating network address.
func AddressKey(addr string) Key {
	return Key{Kind: KindAddress, ID: strings.TrimSpace(addr)}
}

func (k Key) storeKey() string {
	return k.Kind.String() + ":" + k.ID
}

// Policy is the threshold and lock length for one Kind.
type Policy struct {
	Threshold int
	Duration  time.Duration
}

// Config configures a Guard.
type Config struct {
	Account Policy
	Address Policy
	// RecordTTL drops a counter this long after its last update. It is raised
	// to the lock duration when shorter.
	RecordTTL time.Duration
	Now       func() time.Time
}

// DefaultConfig returns 5 failures per account and 10 per address, each
// locking for 15 minutes.
func DefaultConfig() Config {
	return Config{
		Account:   Policy{Threshold: 5, Duration: 15 * time.Minute},
		Address:   Policy{Threshold: 10, Duration: 15 * time.Minute},
		RecordTTL: 24 * time.Hour,
	}
}

// Record is the stored state of one counter.
type Record struct {
	Failures    int
	LockedUntil time.Time
}

// Locked reports whether r is locked at now.
func (r Record) Locked(now time.Time) bool {
	return !r.LockedUntil.IsZero() && r.LockedUntil.After(now)
}

// FailureUpdate is one atomic failure increment.
type FailureUpdate struct {
	Key       string
	Threshold int
	LockFor   time.Duration
	TTL       time.Duration
	Now       time.Time
}

// Store holds lockout records. RecordFailure must be atomic per key.
type Store interface {
	Get(ctx context.Context, key string) (Record, error)
	RecordFailure(ctx context.Context, u FailureUpdate) (Record, error)
	Reset(ctx context.Context, keys ...string) error
}

// Guard decides whether an authentication attempt may proceed.
type Guard struct {
	store Store
	cfg   Config
}

// NewGuard validates cfg and returns a Guard over store.
func NewGuard(store Store, cfg Config) (*Guard, error) {
	if store == nil {
		return nil, errors.New("nil lockout store")
	}
	for _, p := range []Policy{cfg.Account, cfg.Address} {
		if p.Threshold < 1 || p.Duration <= 0 {
			return nil, errors.New("lockout threshold and duration must be positive")
		}
	}
	if cfg.RecordTTL <= 0 {
		cfg.RecordTTL = 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Guard{store: store, cfg: cfg}, nil
}

func (g *Guard) policy(k Kind) Policy {
	if k == KindAddress {
		return g.cfg.Address
	}
	return g.cfg.Account
}

// Check returns ErrLocked if any non-empty key is locked. It never touches
// the counters.
func (g *Guard) Check(ctx context.Context, keys ...Key) error {
	now := g.cfg.Now()
	for _, k := range keys {
		if k.ID == "" {
			continue
		}
		rec, err := g.store.Get(ctx, k.storeKey())
		if err != nil {
			return err
		}
		if rec.Locked(now) {
			return ErrLocked
		}
	}
	return nil
}

// RecordFailure counts one failed attempt against k and reports whether k
// is locked afterwards. Failures while locked change nothing. The counter
// stays at the threshold after a lock, so the first failure after it lapses
// locks again.
func (g *Guard) RecordFailure(ctx context.Context, k Key) (bool, error) {
	if k.ID == "" {
		return false, nil
	}
	p := g.policy(k.Kind)
	ttl := g.cfg.RecordTTL
	if ttl < p.Duration {
		ttl = p.Duration
	}
	now := g.cfg.Now()

	rec, err := g.store.RecordFailure(ctx, FailureUpdate{
		Key:       k.storeKey(),
		Threshold: p.Threshold,
		LockFor:   p.Duration,
		TTL:       ttl,
		Now:       now,
	})
	if err != nil {
		return false, err
	}
	return rec.Locked(now), nil
}

// RecordSuccess clears the counters and any lock for keys.
func (g *Guard) RecordSuccess(ctx context.Context, keys ...Key) error {
	storeKeys := make([]string, 0, len(keys))
	for _, k := range keys {
		if k.ID != "" {
			storeKeys = append(storeKeys, k.storeKey())
		}
	}
	if len(storeKeys) == 0 {
		return nil
	}
	return g.store.Reset(ctx, storeKeys...)
}

// Status returns the current record for k.
func (g *Guard) Status(ctx context.Context, k Key) (Record, error) {
	if k.ID == "" {
		return Record{}, nil
	}
	return g.store.Get(ctx, k.storeKey())
}

// ApplyFailure is the transition every Store performs for one failure. The
// memory and SQL stores call it directly; the Redis script mirrors it.
func ApplyFailure(rec Record, u FailureUpdate) Record {
	if rec.Locked(u.Now) {
		return rec
	}
	if rec.Failures < u.Threshold {
		rec.Failures++
	}
	if rec.Failures >= u.Threshold {
		rec.LockedUntil = u.Now.Add(u.LockFor)
	}
	return rec
}
