package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ongarde/ongarde/internal/adapter/outbound/state"
	"github.com/ongarde/ongarde/internal/domain/auth"
)

// Sentinel errors for key/identity operations.
var (
	ErrIdentityNotFound = errors.New("identity not found")
	ErrAPIKeyNotFound   = errors.New("api key not found")
	ErrReadOnly         = errors.New("read-only entry cannot be modified")
)

// keyPrefix identifies OnGarde-issued API keys at a glance in logs and
// dashboards without revealing the key itself.
const keyPrefix = "ong-"

// GenerateKeyInput is the request to create a new API key for an identity.
type GenerateKeyInput struct {
	IdentityID string
	Name       string
	ExpiresAt  *time.Time
}

// GenerateKeyResult carries the cleartext key, returned exactly once.
type GenerateKeyResult struct {
	KeyEntry     state.APIKeyEntry
	CleartextKey string
}

// KeyService manages identities and API keys persisted via state.FileStateStore,
// mirroring the teacher's read-modify-persist-recache pattern for every
// mutation.
type KeyService struct {
	store *state.FileStateStore
	mu    sync.Mutex
}

// NewKeyService creates a new KeyService backed by store.
func NewKeyService(store *state.FileStateStore) *KeyService {
	return &KeyService{store: store}
}

// Bootstrap ensures at least one admin identity and API key exist. It is a
// no-op if any identity is already present — bootstrap only ever runs
// against a genuinely empty store (SPEC_FULL.md §9).
func (s *KeyService) Bootstrap(ctx context.Context) (*GenerateKeyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.store.Load()
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if len(st.Identities) > 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	identityID := uuid.NewString()
	st.Identities = append(st.Identities, state.IdentityEntry{
		ID:        identityID,
		Name:      "bootstrap-admin",
		Roles:     []string{string(auth.RoleAdmin)},
		CreatedAt: now,
	})

	cleartext, entry, err := newAPIKeyEntry(identityID, "bootstrap", nil)
	if err != nil {
		return nil, err
	}
	st.APIKeys = append(st.APIKeys, entry)

	if err := s.store.Save(st); err != nil {
		return nil, fmt.Errorf("save state: %w", err)
	}
	return &GenerateKeyResult{KeyEntry: entry, CleartextKey: cleartext}, nil
}

// GenerateKey creates a new API key for an existing identity.
func (s *KeyService) GenerateKey(ctx context.Context, input GenerateKeyInput) (*GenerateKeyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.store.Load()
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	found := false
	for _, id := range st.Identities {
		if id.ID == input.IdentityID {
			found = true
			break
		}
	}
	if !found {
		return nil, ErrIdentityNotFound
	}

	cleartext, entry, err := newAPIKeyEntry(input.IdentityID, input.Name, input.ExpiresAt)
	if err != nil {
		return nil, err
	}
	st.APIKeys = append(st.APIKeys, entry)

	if err := s.store.Save(st); err != nil {
		return nil, fmt.Errorf("save state: %w", err)
	}
	return &GenerateKeyResult{KeyEntry: entry, CleartextKey: cleartext}, nil
}

// RevokeKey marks an API key revoked by its ID and returns its hash so the
// caller can evict it from the hot-path auth store.
func (s *KeyService) RevokeKey(ctx context.Context, id string) (keyHash string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.store.Load()
	if err != nil {
		return "", fmt.Errorf("load state: %w", err)
	}

	for i := range st.APIKeys {
		if st.APIKeys[i].ID != id {
			continue
		}
		if st.APIKeys[i].ReadOnly {
			return "", ErrReadOnly
		}
		st.APIKeys[i].Revoked = true
		keyHash = st.APIKeys[i].KeyHash
		if err := s.store.Save(st); err != nil {
			return "", fmt.Errorf("save state: %w", err)
		}
		return keyHash, nil
	}
	return "", ErrAPIKeyNotFound
}

// ListAllKeys returns every stored API key across all identities.
func (s *KeyService) ListAllKeys(ctx context.Context) ([]state.APIKeyEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.store.Load()
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	return st.APIKeys, nil
}

// LoadAuthStore reads the persisted identities/keys into an in-memory
// auth.AuthStore-compatible snapshot, for seeding the hot-path store at
// startup.
func (s *KeyService) LoadAuthStore(ctx context.Context) (*state.AppState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Load()
}

func newAPIKeyEntry(identityID, name string, expiresAt *time.Time) (cleartext string, entry state.APIKeyEntry, err error) {
	raw := make([]byte, 32)
	if _, err = rand.Read(raw); err != nil {
		return "", state.APIKeyEntry{}, fmt.Errorf("generate key material: %w", err)
	}
	cleartext = keyPrefix + hex.EncodeToString(raw)

	hash, err := auth.HashKeyArgon2id(cleartext)
	if err != nil {
		return "", state.APIKeyEntry{}, fmt.Errorf("hash key: %w", err)
	}

	entry = state.APIKeyEntry{
		ID:         uuid.NewString(),
		KeyHash:    hash,
		IdentityID: identityID,
		Name:       name,
		CreatedAt:  time.Now().UTC(),
		ExpiresAt:  expiresAt,
	}
	return cleartext, entry, nil
}
