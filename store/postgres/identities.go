package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/authcore/identity"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	emailConstraint      = "identities_email_key"
	federationConstraint = "identities_federation_key"
)

const identityColumns = `id, email, COALESCE(password_hash, ''), role,
	COALESCE(federated_provider, ''), COALESCE(federated_subject, ''), created_at`

// IdentityStore implements identity.Store on the identities table.
type IdentityStore struct {
	db DB
}

func NewIdentityStore(db DB) *IdentityStore {
	return &IdentityStore{db: db}
}

func (s *IdentityStore) Create(ctx context.Context, in identity.NewIdentity) (*identity.Identity, error) {
	role := in.Role
	if role == "" {
		role = identity.DefaultRole
	}
	ident := &identity.Identity{
		ID:                uuid.New(),
		Email:             identity.NormalizeEmail(in.Email),
		PasswordHash:      in.PasswordHash,
		Role:              role,
		FederatedProvider: in.FederatedProvider,
		FederatedSubject:  in.FederatedSubject,
	}

	query := `
		INSERT INTO identities (id, email, password_hash, role, federated_provider, federated_subject)
		VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), NULLIF($6, ''))
		RETURNING created_at
	`
	err := s.db.QueryRow(ctx, query,
		ident.ID,
		ident.Email,
		ident.PasswordHash,
		ident.Role,
		ident.FederatedProvider,
		ident.FederatedSubject,
	).Scan(&ident.CreatedAt)
	if err != nil {
		return nil, mapIdentityError(err)
	}
	return ident, nil
}

func (s *IdentityStore) ByID(ctx context.Context, id uuid.UUID) (*identity.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE id = $1`
	return scanIdentity(s.db.QueryRow(ctx, query, id))
}

func (s *IdentityStore) ByEmail(ctx context.Context, email string) (*identity.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE email = $1`
	return scanIdentity(s.db.QueryRow(ctx, query, identity.NormalizeEmail(email)))
}

func (s *IdentityStore) ByFederated(ctx context.Context, provider, subject string) (*identity.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities
		WHERE federated_provider = $1 AND federated_subject = $2`
	return scanIdentity(s.db.QueryRow(ctx, query, provider, subject))
}

// LinkFederated sets the (provider, subject) pair on an identity, replacing
// any earlier link.
func (s *IdentityStore) LinkFederated(ctx context.Context, id uuid.UUID, provider, subject string) (*identity.Identity, error) {
	query := `UPDATE identities SET federated_provider = $2, federated_subject = $3
		WHERE id = $1
		RETURNING ` + identityColumns
	return scanIdentity(s.db.QueryRow(ctx, query, id, provider, subject))
}

func (s *IdentityStore) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	tag, err := s.db.Exec(ctx, `UPDATE identities SET password_hash = $2 WHERE id = $1`, id, hash)
	if err != nil {
		return mapIdentityError(err)
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrNotFound
	}
	return nil
}

func scanIdentity(row interface{ Scan(dest ...interface{}) error }) (*identity.Identity, error) {
	var ident identity.Identity
	err := row.Scan(
		&ident.ID,
		&ident.Email,
		&ident.PasswordHash,
		&ident.Role,
		&ident.FederatedProvider,
		&ident.FederatedSubject,
		&ident.CreatedAt,
	)
	if err != nil {
		return nil, mapIdentityError(err)
	}
	return &ident, nil
}

func mapIdentityError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return identity.ErrNotFound
	}
	if constraint, ok := uniqueConstraint(err); ok {
		if constraint == federationConstraint {
			return identity.ErrDuplicateFederation
		}
		if constraint == emailConstraint {
			return identity.ErrDuplicateEmail
		}
	}
	return fmt.Errorf("%w: %v", identity.ErrUnavailable, err)
}
