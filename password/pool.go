package password

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Pool runs Argon2 work on a bounded number of slots so a burst of logins
// cannot occupy every goroutine the scheduler has runnable at once.
type Pool struct {
	hasher *Argon2
	sem    *semaphore.Weighted
	dummy  string
}

// NewPool wraps hasher with at most workers concurrent hash/verify calls.
// workers <= 0 selects runtime.NumCPU().
//
// NewPool hashes one random value up front; [Pool.VerifyDummy] compares
// against it so an unknown-account login costs the same as a wrong password.
func NewPool(hasher *Argon2, workers int) (*Pool, error) {
	if hasher == nil {
		return nil, fmt.Errorf("nil hasher")
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	seed := make([]byte, 24)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return nil, fmt.Errorf("dummy seed: %w", err)
	}
	dummy, err := hasher.Hash(base64.RawURLEncoding.EncodeToString(seed))
	if err != nil {
		return nil, fmt.Errorf("dummy hash: %w", err)
	}

	return &Pool{
		hasher: hasher,
		sem:    semaphore.NewWeighted(int64(workers)),
		dummy:  dummy,
	}, nil
}

// Hash acquires a slot and hashes password.
func (p *Pool) Hash(ctx context.Context, password string) (string, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer p.sem.Release(1)

	return p.hasher.Hash(password)
}

// Verify acquires a slot and checks password against encodedHash.
// The error is non-nil only when ctx ends before a slot frees up.
func (p *Pool) Verify(ctx context.Context, password, encodedHash string) (bool, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer p.sem.Release(1)

	return p.hasher.Verify(password, encodedHash), nil
}

// VerifyDummy burns one verification against the pool's throwaway hash.
func (p *Pool) VerifyDummy(ctx context.Context, password string) error {
	_, err := p.Verify(ctx, password, p.dummy)
	return err
}

// NeedsUpgrade forwards to the wrapped hasher.
func (p *Pool) NeedsUpgrade(encodedHash string) bool {
	return p.hasher.NeedsUpgrade(encodedHash)
}
