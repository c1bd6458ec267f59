package oauth

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/identity"
)

// Upsert resolves ext to a local identity: by (provider, subject) first, then
// by email, linking the federation onto that account, else a new identity
// with no password. A concurrent first login that loses the insert race is
// resolved by one more lookup.
func Upsert(ctx context.Context, store identity.Store, ext *ExternalIdentity) (*identity.Identity, error) {
	for attempt := 0; attempt < 2; attempt++ {
		ident, err := lookupOrLink(ctx, store, ext)
		if err == nil {
			return ident, nil
		}
		if !errors.Is(err, identity.ErrNotFound) {
			return nil, err
		}

		created, err := store.Create(ctx, identity.NewIdentity{
			Email:             ext.Email,
			Role:              identity.DefaultRole,
			FederatedProvider: ext.Provider,
			FederatedSubject:  ext.Subject,
		})
		if err == nil {
			return created, nil
		}
		if !errors.Is(err, identity.ErrDuplicateEmail) && !errors.Is(err, identity.ErrDuplicateFederation) {
			return nil, err
		}
	}
	return nil, identity.ErrDuplicateEmail
}

func lookupOrLink(ctx context.Context, store identity.Store, ext *ExternalIdentity) (*identity.Identity, error) {
	ident, err := store.ByFederated(ctx, ext.Provider, ext.Subject)
	if err == nil {
		return ident, nil
	}
	if !errors.Is(err, identity.ErrNotFound) {
		return nil, err
	}

	byEmail, err := store.ByEmail(ctx, ext.Email)
	if err != nil {
		return nil, err
	}
	return store.LinkFederated(ctx, byEmail.ID, ext.Provider, ext.Subject)
}
