package auth

import (
	"context"
)

// AuthStore provides credential lookup for authentication.
// This interface is defined in the domain to avoid circular imports.
// Implementations: in-memory, backed by the durable state store.
type AuthStore interface {
	// GetAPIKey retrieves an API key by its hash.
	GetAPIKey(ctx context.Context, keyHash string) (*APIKey, error)

	// GetIdentity retrieves user identity by ID.
	GetIdentity(ctx context.Context, id string) (*Identity, error)

	// ListAPIKeys returns all stored API keys for iteration-based verification.
	ListAPIKeys(ctx context.Context) ([]*APIKey, error)
}
