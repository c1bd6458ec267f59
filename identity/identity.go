// Package identity defines the local user record and the storage contract the
// authentication flows depend on.
package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultRole is assigned to identities created without an explicit role.
const DefaultRole = "client"

var (
	ErrNotFound = errors.New("identity not found")
	// ErrDuplicateEmail is returned by Create when the email is taken.
	ErrDuplicateEmail = errors.New("identity email already exists")
	// ErrDuplicateFederation is returned when a (provider, subject) pair is already linked.
	ErrDuplicateFederation = errors.New("federated identity already linked")
	// ErrUnavailable wraps storage transport failures.
	ErrUnavailable = errors.New("identity store unavailable")
)

// Identity is a local account. It has a password hash, a federated
// (provider, subject) link, or both.
type Identity struct {
	ID                uuid.UUID
	Email             string
	PasswordHash      string
	Role              string
	FederatedProvider string
	FederatedSubject  string
	CreatedAt         time.Time
}

// HasPassword reports whether the identity can log in with a password.
func (i *Identity) HasPassword() bool {
	return i.PasswordHash != ""
}

// NewIdentity is the input to Store.Create.
type NewIdentity struct {
	Email             string
	PasswordHash      string
	Role              string
	FederatedProvider string
	FederatedSubject  string
}

// Store persists identities. Email uniqueness must be enforced by the store.
type Store interface {
	Create(ctx context.Context, in NewIdentity) (*Identity, error)
	ByID(ctx context.Context, id uuid.UUID) (*Identity, error)
	ByEmail(ctx context.Context, email string) (*Identity, error)
	ByFederated(ctx context.Context, provider, subject string) (*Identity, error)
	LinkFederated(ctx context.Context, id uuid.UUID, provider, subject string) (*Identity, error)
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error
}

// NormalizeEmail trims and lowercases an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
