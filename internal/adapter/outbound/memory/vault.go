package memory

import (
	"context"
	"sync"

	"github.com/latch-sh/latch/internal/domain/secrets"
)

// Vault is an in-memory secrets.Vault, seeded from configuration.
type Vault struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewVault creates a vault seeded with the given secrets.
func NewVault(seed map[string]string) *Vault {
	values := make(map[string]string, len(seed))
	for k, v := range seed {
		values[k] = v
	}
	return &Vault{values: values}
}

// Resolve returns the secret for key or secrets.ErrSecretNotFound.
func (v *Vault) Resolve(ctx context.Context, key string) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	val, ok := v.values[key]
	if !ok {
		return "", secrets.ErrSecretNotFound
	}
	return val, nil
}

// Put stores a secret.
func (v *Vault) Put(key, value string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.values[key] = value
}

// Compile-time interface verification.
var _ secrets.Vault = (*Vault)(nil)
