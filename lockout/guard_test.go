package lockout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type storeFactory func(t *testing.T, clock *fakeClock) Store

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(_ *testing.T, clock *fakeClock) Store {
			return NewMemoryStore(clock.Now)
		},
		"redis": func(t *testing.T, _ *fakeClock) Store {
			mr, err := miniredis.Run()
			if err != nil {
				t.Fatalf("miniredis start: %v", err)
			}
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() {
				rdb.Close()
				mr.Close()
			})
			return NewRedisStore(rdb, "test:lock")
		},
	}
}

func newGuard(t *testing.T, factory storeFactory) (*Guard, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Now()}
	cfg := DefaultConfig()
	cfg.Now = clock.Now
	g, err := NewGuard(factory(t, clock), cfg)
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	return g, clock
}

func TestAccountLocksAtThreshold(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			g, clock := newGuard(t, factory)
			ctx := context.Background()
			acct := AccountKey("User@Example.com")

			for i := 1; i <= 4; i++ {
				locked, err := g.RecordFailure(ctx, acct)
				if err != nil {
					t.Fatalf("failure %d: %v", i, err)
				}
				if locked {
					t.Fatalf("locked too early at failure %d", i)
				}
				if err := g.Check(ctx, acct); err != nil {
					t.Fatalf("check after %d failures: %v", i, err)
				}
			}

			locked, err := g.RecordFailure(ctx, acct)
			if err != nil {
				t.Fatalf("fifth failure: %v", err)
			}
			if !locked {
				t.Fatal("expected lock at fifth failure")
			}
			if err := g.Check(ctx, AccountKey("user@example.com")); !errors.Is(err, ErrLocked) {
				t.Fatalf("expected normalized key to be locked, got %v", err)
			}

			clock.Advance(14 * time.Minute)
			if err := g.Check(ctx, acct); !errors.Is(err, ErrLocked) {
				t.Fatalf("expected still locked at 14m, got %v", err)
			}

			clock.Advance(time.Minute + time.Second)
			if err := g.Check(ctx, acct); err != nil {
				t.Fatalf("expected lock to lapse after 15m, got %v", err)
			}
		})
	}
}

func TestFailuresDuringLockDoNotExtend(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			g, clock := newGuard(t, factory)
			ctx := context.Background()
			acct := AccountKey("a@example.com")

			for i := 0; i < 5; i++ {
				if _, err := g.RecordFailure(ctx, acct); err != nil {
					t.Fatalf("failure: %v", err)
				}
			}
			first, err := g.Status(ctx, acct)
			if err != nil {
				t.Fatalf("status: %v", err)
			}

			clock.Advance(5 * time.Minute)
			for i := 0; i < 3; i++ {
				if _, err := g.RecordFailure(ctx, acct); err != nil {
					t.Fatalf("failure while locked: %v", err)
				}
			}
			after, err := g.Status(ctx, acct)
			if err != nil {
				t.Fatalf("status: %v", err)
			}
			if after.Failures != 5 {
				t.Fatalf("expected counter to stay at 5, got %d", after.Failures)
			}
			if !after.LockedUntil.Equal(first.LockedUntil) {
				t.Fatalf("lock moved from %v to %v", first.LockedUntil, after.LockedUntil)
			}
		})
	}
}

func TestLockRearmsAfterExpiry(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			g, clock := newGuard(t, factory)
			ctx := context.Background()
			acct := AccountKey("a@example.com")

			for i := 0; i < 5; i++ {
				if _, err := g.RecordFailure(ctx, acct); err != nil {
					t.Fatalf("failure: %v", err)
				}
			}
			clock.Advance(16 * time.Minute)

			locked, err := g.RecordFailure(ctx, acct)
			if err != nil {
				t.Fatalf("failure after lapse: %v", err)
			}
			if !locked {
				t.Fatal("expected one failure after lapse to lock again")
			}
		})
	}
}

func TestSuccessResets(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			g, _ := newGuard(t, factory)
			ctx := context.Background()
			acct := AccountKey("a@example.com")
			addr := AddressKey("203.0.113.7")

			for i := 0; i < 4; i++ {
				if _, err := g.RecordFailure(ctx, acct); err != nil {
					t.Fatalf("failure: %v", err)
				}
				if _, err := g.RecordFailure(ctx, addr); err != nil {
					t.Fatalf("failure: %v", err)
				}
			}
			if err := g.RecordSuccess(ctx, acct, addr); err != nil {
				t.Fatalf("success: %v", err)
			}
			for _, k := range []Key{acct, addr} {
				rec, err := g.Status(ctx, k)
				if err != nil {
					t.Fatalf("status: %v", err)
				}
				if rec.Failures != 0 || !rec.LockedUntil.IsZero() {
					t.Fatalf("expected reset record, got %+v", rec)
				}
			}

			locked, err := g.RecordFailure(ctx, acct)
			if err != nil || locked {
				t.Fatalf("expected fresh counter after reset, locked=%v err=%v", locked, err)
			}
		})
	}
}

func TestAddressThresholdAcrossAccounts(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			g, _ := newGuard(t, factory)
			ctx := context.Background()
			addr := AddressKey("198.51.100.1")

			for i := 0; i < 9; i++ {
				locked, err := g.RecordFailure(ctx, addr)
				if err != nil {
					t.Fatalf("failure: %v", err)
				}
				if locked {
					t.Fatalf("address locked early at %d", i+1)
				}
			}
			locked, err := g.RecordFailure(ctx, addr)
			if err != nil {
				t.Fatalf("tenth failure: %v", err)
			}
			if !locked {
				t.Fatal("expected address lock at tenth failure")
			}
			if err := g.Check(ctx, AccountKey("fresh@example.com"), addr); !errors.Is(err, ErrLocked) {
				t.Fatalf("expected address lock to reject any account, got %v", err)
			}
		})
	}
}

func TestEmptyKeysIgnored(t *testing.T) {
	g, _ := newGuard(t, backends()["memory"])
	ctx := context.Background()

	locked, err := g.RecordFailure(ctx, AddressKey(""))
	if err != nil || locked {
		t.Fatalf("expected empty key to be ignored, locked=%v err=%v", locked, err)
	}
	if err := g.Check(ctx, AddressKey("")); err != nil {
		t.Fatalf("check: %v", err)
	}
	if err := g.RecordSuccess(ctx, AddressKey("")); err != nil {
		t.Fatalf("success: %v", err)
	}
}

func TestMemoryStoreRecordTTL(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	store := NewMemoryStore(clock.Now)
	cfg := DefaultConfig()
	cfg.Now = clock.Now
	cfg.RecordTTL = time.Hour
	g, err := NewGuard(store, cfg)
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	ctx := context.Background()

	if _, err := g.RecordFailure(ctx, AccountKey("a@example.com")); err != nil {
		t.Fatalf("failure: %v", err)
	}
	clock.Advance(2 * time.Hour)
	if n := store.Sweep(); n != 1 {
		t.Fatalf("expected one swept entry, got %d", n)
	}
}

func TestMemoryStoreSweepsWhileRecording(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	store := NewMemoryStore(clock.Now)
	cfg := DefaultConfig()
	cfg.Now = clock.Now
	cfg.RecordTTL = time.Hour
	g, err := NewGuard(store, cfg)
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < sweepEvery-1; i++ {
		if _, err := g.RecordFailure(ctx, AddressKey(fmt.Sprintf("10.0.%d.%d", i/256, i%256))); err != nil {
			t.Fatalf("failure %d: %v", i, err)
		}
	}
	if n := store.Len(); n != sweepEvery-1 {
		t.Fatalf("expected %d records, got %d", sweepEvery-1, n)
	}

	// Every earlier address has aged out; the next write triggers a sweep.
	clock.Advance(2 * time.Hour)
	if _, err := g.RecordFailure(ctx, AddressKey("192.0.2.1")); err != nil {
		t.Fatalf("failure: %v", err)
	}
	if n := store.Len(); n != 1 {
		t.Fatalf("expected only the fresh record after sweep, got %d", n)
	}
}

func TestConcurrentFailuresCountedOnce(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			g, _ := newGuard(t, factory)
			ctx := context.Background()
			addr := AddressKey("192.0.2.10")

			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, _ = g.RecordFailure(ctx, addr)
				}()
			}
			wg.Wait()

			rec, err := g.Status(ctx, addr)
			if err != nil {
				t.Fatalf("status: %v", err)
			}
			if rec.Failures != 8 {
				t.Fatalf("expected 8 failures, got %d", rec.Failures)
			}
		})
	}
}

func TestNewGuardRejectsBadPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Account.Threshold = 0
	if _, err := NewGuard(NewMemoryStore(nil), cfg); err == nil {
		t.Fatal("expected zero threshold to be rejected")
	}
	if _, err := NewGuard(nil, DefaultConfig()); err == nil {
		t.Fatal("expected nil store to be rejected")
	}
}
