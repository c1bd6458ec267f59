package identity

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. Lookups return copies.
type MemoryStore struct {
	mu        sync.RWMutex
	byID      map[uuid.UUID]*Identity
	byEmail   map[string]uuid.UUID
	federated map[string]uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:      make(map[uuid.UUID]*Identity),
		byEmail:   make(map[string]uuid.UUID),
		federated: make(map[string]uuid.UUID),
	}
}

func federationKey(provider, subject string) string {
	return provider + "\x00" + subject
}

func (s *MemoryStore) Create(_ context.Context, in NewIdentity) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := NormalizeEmail(in.Email)
	if _, ok := s.byEmail[email]; ok {
		return nil, ErrDuplicateEmail
	}
	fk := ""
	if in.FederatedProvider != "" {
		fk = federationKey(in.FederatedProvider, in.FederatedSubject)
		if _, ok := s.federated[fk]; ok {
			return nil, ErrDuplicateFederation
		}
	}

	role := in.Role
	if role == "" {
		role = DefaultRole
	}
	ident := &Identity{
		ID:                uuid.New(),
		Email:             email,
		PasswordHash:      in.PasswordHash,
		Role:              role,
		FederatedProvider: in.FederatedProvider,
		FederatedSubject:  in.FederatedSubject,
		CreatedAt:         time.Now().UTC(),
	}
	s.byID[ident.ID] = ident
	s.byEmail[email] = ident.ID
	if fk != "" {
		s.federated[fk] = ident.ID
	}

	out := *ident
	return &out, nil
}

func (s *MemoryStore) ByID(_ context.Context, id uuid.UUID) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyOf(id)
}

func (s *MemoryStore) ByEmail(_ context.Context, email string) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return s.copyOf(id)
}

func (s *MemoryStore) ByFederated(_ context.Context, provider, subject string) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.federated[federationKey(provider, subject)]
	if !ok {
		return nil, ErrNotFound
	}
	return s.copyOf(id)
}

func (s *MemoryStore) LinkFederated(_ context.Context, id uuid.UUID, provider, subject string) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	fk := federationKey(provider, subject)
	if owner, ok := s.federated[fk]; ok && owner != id {
		return nil, ErrDuplicateFederation
	}
	if ident.FederatedProvider != "" {
		delete(s.federated, federationKey(ident.FederatedProvider, ident.FederatedSubject))
	}
	ident.FederatedProvider = provider
	ident.FederatedSubject = subject
	s.federated[fk] = id

	out := *ident
	return &out, nil
}

func (s *MemoryStore) UpdatePasswordHash(_ context.Context, id uuid.UUID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	ident.PasswordHash = hash
	return nil
}

func (s *MemoryStore) copyOf(id uuid.UUID) (*Identity, error) {
	ident, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *ident
	return &out, nil
}
