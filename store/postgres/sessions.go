package postgres

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/session"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SessionRepository implements session.Repository on the sessions table.
// Rotate and Revoke lock the row with SELECT ... FOR UPDATE.
type SessionRepository struct {
	db DB
}

func NewSessionRepository(db DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const selectSession = `
	SELECT identity_id, secret_hash, expires_at, revoked_at
	FROM sessions
	WHERE id = $1
`

// Create inserts s. Expiry is enforced from expires_at, so now is unused.
func (r *SessionRepository) Create(ctx context.Context, s *session.Session, _ time.Time) error {
	query := `
		INSERT INTO sessions (id, identity_id, secret_hash, expires_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.db.Exec(ctx, query, s.ID, s.IdentityID, s.SecretHash[:], s.ExpiresAt)
	if err != nil {
		if _, ok := uniqueConstraint(err); ok {
			return fmt.Errorf("session %s already exists", s.ID)
		}
		return fmt.Errorf("%w: %v", session.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, id uuid.UUID) (*session.Session, error) {
	s, err := scanSession(r.db.QueryRow(ctx, selectSession, id), id)
	if err != nil {
		return nil, mapSessionError(err)
	}
	return s, nil
}

func (r *SessionRepository) Rotate(ctx context.Context, req session.RotateRequest) (*session.RotateResult, error) {
	var (
		result  *session.RotateResult
		refusal error
	)
	err := inTx(ctx, r.db, func(tx pgx.Tx) error {
		s, err := scanSession(tx.QueryRow(ctx, selectSession+" FOR UPDATE", req.SessionID), req.SessionID)
		if err != nil {
			return err
		}

		switch {
		case s.RevokedAt != nil:
			refusal = session.ErrSessionRevoked
			return nil
		case !s.ExpiresAt.After(req.Now):
			refusal = session.ErrSessionExpired
			return nil
		case subtle.ConstantTimeCompare(s.SecretHash[:], req.PresentedHash[:]) != 1:
			refusal = session.ErrRefreshHashMismatch
			if req.RevokeOnMismatch {
				_, err := tx.Exec(ctx, `UPDATE sessions SET revoked_at = $2 WHERE id = $1`, req.SessionID, req.Now)
				return err
			}
			return nil
		}

		_, err = tx.Exec(ctx,
			`UPDATE sessions SET secret_hash = $2, expires_at = $3 WHERE id = $1`,
			req.SessionID, req.NextHash[:], req.NextExpiresAt,
		)
		if err != nil {
			return err
		}
		result = &session.RotateResult{IdentityID: s.IdentityID, ExpiresAt: req.NextExpiresAt}
		return nil
	})
	if err != nil {
		return nil, mapSessionError(err)
	}
	if refusal != nil {
		return nil, refusal
	}
	return result, nil
}

// Revoke sets revoked_at to now unless it is already set.
func (r *SessionRepository) Revoke(ctx context.Context, id uuid.UUID, now time.Time) (session.RevokeStatus, error) {
	status := session.RevokeNotFound
	err := inTx(ctx, r.db, func(tx pgx.Tx) error {
		s, err := scanSession(tx.QueryRow(ctx, selectSession+" FOR UPDATE", id), id)
		if err != nil {
			if errors.Is(err, session.ErrSessionNotFound) {
				return nil
			}
			return err
		}
		if s.RevokedAt != nil {
			status = session.RevokeAlreadyRevoked
			return nil
		}

		if _, err := tx.Exec(ctx, `UPDATE sessions SET revoked_at = $2 WHERE id = $1`, id, now); err != nil {
			return err
		}
		if s.ExpiresAt.After(now) {
			status = session.RevokeRevoked
		} else {
			status = session.RevokeExpired
		}
		return nil
	})
	if err != nil {
		return session.RevokeNotFound, mapSessionError(err)
	}
	return status, nil
}

func scanSession(row pgx.Row, id uuid.UUID) (*session.Session, error) {
	var (
		s    = session.Session{ID: id}
		hash []byte
	)
	if err := row.Scan(&s.IdentityID, &hash, &s.ExpiresAt, &s.RevokedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, session.ErrSessionNotFound
		}
		return nil, err
	}
	if len(hash) != len(s.SecretHash) {
		return nil, session.ErrSessionCorrupt
	}
	copy(s.SecretHash[:], hash)
	return &s, nil
}

func mapSessionError(err error) error {
	switch {
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrSessionCorrupt):
		return err
	default:
		return fmt.Errorf("%w: %v", session.ErrStoreUnavailable, err)
	}
}
