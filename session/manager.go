package session

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidSession is returned for any refresh that must be refused:
// unknown, expired, revoked, or wrong secret. errors.Is also matches the
// specific cause.
var ErrInvalidSession = errors.New("invalid session")

// Config controls refresh-session lifetime and hashing.
type Config struct {
	// TTL is the lifetime given to a session on issue and on every rotation.
	TTL time.Duration
	// HashKey keys the HMAC-SHA256 applied to refresh secrets.
	HashKey []byte
	// ReuseDetection revokes a live session when a stale secret is presented for it.
	ReuseDetection bool
	Now            func() time.Time
}

// Token is a freshly minted refresh credential. Secret is only ever held in memory.
type Token struct {
	SessionID  uuid.UUID
	IdentityID uuid.UUID
	Secret     string
	ExpiresAt  time.Time
}

// String renders the client-held form "<session id>.<secret>".
func (t *Token) String() string {
	return FormatToken(t.SessionID, t.Secret)
}

// Manager implements issue, redeem-and-rotate and revoke on top of a Repository.
type Manager struct {
	repo Repository
	cfg  Config
}

// NewManager returns a Manager over repo.
func NewManager(repo Repository, cfg Config) (*Manager, error) {
	if repo == nil {
		return nil, errors.New("nil session repository")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("session TTL must be > 0")
	}
	if len(cfg.HashKey) < 32 {
		return nil, errors.New("session hash key must be at least 32 bytes")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{repo: repo, cfg: cfg}, nil
}

func (m *Manager) hash(secret string) [32]byte {
	mac := hmac.New(sha256.New, m.cfg.HashKey)
	mac.Write([]byte(secret))
	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// Issue creates a new session for identityID.
func (m *Manager) Issue(ctx context.Context, identityID uuid.UUID) (*Token, error) {
	secret, err := newSecret()
	if err != nil {
		return nil, err
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("session id: %w", err)
	}

	now := m.cfg.Now()
	s := &Session{
		ID:         id,
		IdentityID: identityID,
		SecretHash: m.hash(secret),
		ExpiresAt:  now.Add(m.cfg.TTL),
	}
	if err := m.repo.Create(ctx, s, now); err != nil {
		return nil, err
	}

	return &Token{
		SessionID:  s.ID,
		IdentityID: identityID,
		Secret:     secret,
		ExpiresAt:  s.ExpiresAt,
	}, nil
}

// RedeemAndRotate checks secret against the session and, in the same atomic
// step, replaces it with a new one. The session id does not change.
//
// On a wrong secret the session is left as it was, unless ReuseDetection is on.
func (m *Manager) RedeemAndRotate(ctx context.Context, sessionID uuid.UUID, secret string) (*Token, error) {
	next, err := newSecret()
	if err != nil {
		return nil, err
	}
	now := m.cfg.Now()

	res, err := m.repo.Rotate(ctx, RotateRequest{
		SessionID:        sessionID,
		PresentedHash:    m.hash(secret),
		NextHash:         m.hash(next),
		NextExpiresAt:    now.Add(m.cfg.TTL),
		Now:              now,
		RevokeOnMismatch: m.cfg.ReuseDetection,
	})
	if err != nil {
		if isRefusal(err) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidSession, err)
		}
		return nil, err
	}

	return &Token{
		SessionID:  sessionID,
		IdentityID: res.IdentityID,
		Secret:     next,
		ExpiresAt:  res.ExpiresAt,
	}, nil
}

// Revoke marks the session revoked. It is idempotent; the returned status
// says what state the session was in beforehand.
func (m *Manager) Revoke(ctx context.Context, sessionID uuid.UUID) (RevokeStatus, error) {
	return m.repo.Revoke(ctx, sessionID, m.cfg.Now())
}

// RevokeWithSecret revokes the session only if secret is its current refresh
// secret and the session is usable. Anything else is ErrInvalidSession and
// leaves the record alone.
func (m *Manager) RevokeWithSecret(ctx context.Context, sessionID uuid.UUID, secret string) error {
	s, err := m.Lookup(ctx, sessionID)
	if err != nil {
		return err
	}
	presented := m.hash(secret)
	if subtle.ConstantTimeCompare(s.SecretHash[:], presented[:]) != 1 {
		return fmt.Errorf("%w: %w", ErrInvalidSession, ErrRefreshHashMismatch)
	}

	status, err := m.repo.Revoke(ctx, sessionID, m.cfg.Now())
	if err != nil {
		return err
	}
	if !status.WasUsable() {
		// lost a race with another revoke or with expiry
		return fmt.Errorf("%w: %w", ErrInvalidSession, ErrSessionRevoked)
	}
	return nil
}

// Lookup returns the session if it exists and is usable.
func (m *Manager) Lookup(ctx context.Context, sessionID uuid.UUID) (*Session, error) {
	s, err := m.repo.Get(ctx, sessionID)
	if err != nil {
		if isRefusal(err) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidSession, err)
		}
		return nil, err
	}
	now := m.cfg.Now()
	switch {
	case s.RevokedAt != nil:
		return nil, fmt.Errorf("%w: %w", ErrInvalidSession, ErrSessionRevoked)
	case !s.ExpiresAt.After(now):
		return nil, fmt.Errorf("%w: %w", ErrInvalidSession, ErrSessionExpired)
	}
	return s, nil
}

func isRefusal(err error) bool {
	return errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, ErrSessionRevoked) ||
		errors.Is(err, ErrRefreshHashMismatch)
}
