package lockout

import (
	"context"
	"sync"
	"time"
)

// sweepEvery is how many recorded failures pass between automatic sweeps.
const sweepEvery = 1024

type memoryEntry struct {
	rec       Record
	expiresAt time.Time
}

// MemoryStore keeps records in process. It is correct for a single instance
// only; counters are lost on restart and not shared between replicas.
// Expired entries are swept every sweepEvery failures, so the map stays
// bounded by the keys seen within one record TTL.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
	writes  int
}

// NewMemoryStore returns an empty store. now drives record expiry and
// defaults to time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{entries: make(map[string]memoryEntry), now: now}
}

func (s *MemoryStore) Get(_ context.Context, key string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return Record{}, nil
	}
	if !e.expiresAt.After(s.now()) {
		delete(s.entries, key)
		return Record{}, nil
	}
	return e.rec, nil
}

func (s *MemoryStore) RecordFailure(_ context.Context, u FailureUpdate) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[u.Key]
	if ok && !e.expiresAt.After(s.now()) {
		e = memoryEntry{}
	}
	before := e.rec
	e.rec = ApplyFailure(e.rec, u)
	if e.rec != before {
		e.expiresAt = u.Now.Add(u.TTL)
	}
	s.entries[u.Key] = e

	s.writes++
	if s.writes >= sweepEvery {
		s.writes = 0
		s.sweepLocked()
	}
	return e.rec, nil
}

func (s *MemoryStore) Reset(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.entries, k)
	}
	return nil
}

// Sweep drops expired entries and returns how many it removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked()
}

func (s *MemoryStore) sweepLocked() int {
	now := s.now()
	removed := 0
	for k, e := range s.entries {
		if !e.expiresAt.After(now) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of records held, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
