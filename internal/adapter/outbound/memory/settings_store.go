package memory

import (
	"context"
	"sync"

	"github.com/latch-sh/latch/internal/domain/settings"
)

// SettingsStore is a thread-safe in-memory settings.Store.
type SettingsStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewSettingsStore creates a store seeded with the given values.
func NewSettingsStore(seed map[string]string) *SettingsStore {
	values := make(map[string]string, len(seed))
	for k, v := range seed {
		values[k] = v
	}
	return &SettingsStore{values: values}
}

// Get returns the value for key or settings.ErrNotFound.
func (s *SettingsStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return "", settings.ErrNotFound
	}
	return v, nil
}

// Set stores a value.
func (s *SettingsStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// Compile-time interface verification.
var _ settings.Store = (*SettingsStore)(nil)
