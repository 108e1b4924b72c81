// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/ongarde/ongarde/internal/domain/auth"
)

// Error types for auth store operations.
var (
	ErrKeyNotFound      = errors.New("api key not found")
	ErrIdentityNotFound = errors.New("identity not found")
)

// authSnapshot is an immutable view of the store's contents. Readers load
// the current snapshot atomically; writers build a new snapshot and swap
// it in, never mutating one in place.
type authSnapshot struct {
	keys       map[string]*auth.APIKey
	identities map[string]*auth.Identity
}

func emptySnapshot() *authSnapshot {
	return &authSnapshot{
		keys:       make(map[string]*auth.APIKey),
		identities: make(map[string]*auth.Identity),
	}
}

// AuthStore implements auth.AuthStore as a copy-on-write, lock-free store.
// Every proxied request looks up the caller's API key, so reads must never
// block behind a writer; this mirrors the atomic.Pointer snapshot swap the
// reverse proxy uses for its upstream target list on the same hot path.
type AuthStore struct {
	snap atomic.Pointer[authSnapshot]
}

// NewAuthStore creates a new in-memory auth store.
func NewAuthStore() *AuthStore {
	s := &AuthStore{}
	s.snap.Store(emptySnapshot())
	return s
}

// GetAPIKey retrieves an API key by its hash. Returns ErrKeyNotFound if the
// key doesn't exist.
func (s *AuthStore) GetAPIKey(ctx context.Context, keyHash string) (*auth.APIKey, error) {
	key, ok := s.snap.Load().keys[keyHash]
	if !ok {
		return nil, ErrKeyNotFound
	}
	keyCopy := *key
	return &keyCopy, nil
}

// GetIdentity retrieves an identity by ID. Returns ErrIdentityNotFound if
// the identity doesn't exist.
func (s *AuthStore) GetIdentity(ctx context.Context, id string) (*auth.Identity, error) {
	identity, ok := s.snap.Load().identities[id]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	identityCopy := *identity
	identityCopy.Roles = append([]auth.Role(nil), identity.Roles...)
	return &identityCopy, nil
}

// ListAPIKeys returns all stored API keys for iteration-based verification
// (needed for Argon2id keys, which can't be looked up by a direct hash).
func (s *AuthStore) ListAPIKeys(ctx context.Context) ([]*auth.APIKey, error) {
	cur := s.snap.Load().keys
	result := make([]*auth.APIKey, 0, len(cur))
	for _, key := range cur {
		keyCopy := *key
		result = append(result, &keyCopy)
	}
	return result, nil
}

// AddKey inserts or replaces an API key by its stored hash.
func (s *AuthStore) AddKey(key *auth.APIKey) {
	keyCopy := *key
	for {
		old := s.snap.Load()
		next := &authSnapshot{
			keys:       copyKeys(old.keys),
			identities: old.identities,
		}
		next.keys[key.Key] = &keyCopy
		if s.snap.CompareAndSwap(old, next) {
			return
		}
	}
}

// AddIdentity inserts or replaces an identity by ID.
func (s *AuthStore) AddIdentity(identity *auth.Identity) {
	identityCopy := *identity
	identityCopy.Roles = append([]auth.Role(nil), identity.Roles...)
	for {
		old := s.snap.Load()
		next := &authSnapshot{
			keys:       old.keys,
			identities: copyIdentities(old.identities),
		}
		next.identities[identity.ID] = &identityCopy
		if s.snap.CompareAndSwap(old, next) {
			return
		}
	}
}

// RemoveKey removes an API key by its stored hash/key field.
func (s *AuthStore) RemoveKey(keyField string) {
	for {
		old := s.snap.Load()
		if _, ok := old.keys[keyField]; !ok {
			return
		}
		next := &authSnapshot{
			keys:       copyKeys(old.keys),
			identities: old.identities,
		}
		delete(next.keys, keyField)
		if s.snap.CompareAndSwap(old, next) {
			return
		}
	}
}

func copyKeys(m map[string]*auth.APIKey) map[string]*auth.APIKey {
	out := make(map[string]*auth.APIKey, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyIdentities(m map[string]*auth.Identity) map[string]*auth.Identity {
	out := make(map[string]*auth.Identity, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Compile-time interface verification.
var _ auth.AuthStore = (*AuthStore)(nil)
