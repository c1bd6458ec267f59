package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/lockout"
	"github.com/jackc/pgx/v5"
)

// LockoutStore implements lockout.Store on the lockout_records table so
// every instance sharing the database sees the same counters.
//
// A record past expires_at reads as empty. RecordFailure makes sure the row
// exists, then locks it with SELECT ... FOR UPDATE before applying the
// failure, so concurrent failures on one key serialise.
type LockoutStore struct {
	db  DB
	now func() time.Time
}

// NewLockoutStore returns a store over db. now decides record expiry and
// defaults to time.Now.
func NewLockoutStore(db DB, now func() time.Time) *LockoutStore {
	if now == nil {
		now = time.Now
	}
	return &LockoutStore{db: db, now: now}
}

func (s *LockoutStore) Get(ctx context.Context, key string) (lockout.Record, error) {
	query := `
		SELECT failure_count, locked_until
		FROM lockout_records
		WHERE key = $1 AND expires_at > $2
	`
	var (
		rec         lockout.Record
		lockedUntil *time.Time
	)
	err := s.db.QueryRow(ctx, query, key, s.now()).Scan(&rec.Failures, &lockedUntil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return lockout.Record{}, nil
		}
		return lockout.Record{}, fmt.Errorf("%w: %v", lockout.ErrStoreUnavailable, err)
	}
	if lockedUntil != nil {
		rec.LockedUntil = *lockedUntil
	}
	return rec, nil
}

func (s *LockoutStore) RecordFailure(ctx context.Context, u lockout.FailureUpdate) (lockout.Record, error) {
	var out lockout.Record
	err := inTx(ctx, s.db, func(tx pgx.Tx) error {
		// A placeholder that is already expired reads as an empty record.
		_, err := tx.Exec(ctx, `
			INSERT INTO lockout_records (key, failure_count, expires_at)
			VALUES ($1, 0, $2)
			ON CONFLICT (key) DO NOTHING
		`, u.Key, u.Now)
		if err != nil {
			return err
		}

		var (
			rec         lockout.Record
			lockedUntil *time.Time
			expiresAt   time.Time
		)
		err = tx.QueryRow(ctx, `
			SELECT failure_count, locked_until, expires_at
			FROM lockout_records
			WHERE key = $1
			FOR UPDATE
		`, u.Key).Scan(&rec.Failures, &lockedUntil, &expiresAt)
		if err != nil {
			return err
		}
		if expiresAt.After(u.Now) {
			if lockedUntil != nil {
				rec.LockedUntil = *lockedUntil
			}
		} else {
			rec = lockout.Record{}
		}

		out = lockout.ApplyFailure(rec, u)
		if out == rec {
			return nil
		}

		var nextLock *time.Time
		if !out.LockedUntil.IsZero() {
			nextLock = &out.LockedUntil
		}
		_, err = tx.Exec(ctx, `
			UPDATE lockout_records
			SET failure_count = $2, locked_until = $3, expires_at = $4
			WHERE key = $1
		`, u.Key, out.Failures, nextLock, u.Now.Add(u.TTL))
		return err
	})
	if err != nil {
		return lockout.Record{}, fmt.Errorf("%w: %v", lockout.ErrStoreUnavailable, err)
	}
	return out, nil
}

func (s *LockoutStore) Reset(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM lockout_records WHERE key = ANY($1)`, keys); err != nil {
		return fmt.Errorf("%w: %v", lockout.ErrStoreUnavailable, err)
	}
	return nil
}

// Sweep deletes expired records and returns how many it removed.
func (s *LockoutStore) Sweep(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM lockout_records WHERE expires_at <= $1`, s.now())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", lockout.ErrStoreUnavailable, err)
	}
	return tag.RowsAffected(), nil
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *LockoutStore) RunSweeper(ctx context.Context, interval time.Duration, onErr func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && onErr != nil && ctx.Err() == nil {
				onErr(err)
			}
		}
	}
}
