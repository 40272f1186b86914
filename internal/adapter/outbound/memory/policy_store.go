// Package memory provides in-memory adapter implementations. They back the
// default desktop deployment, where policies and settings live for the
// lifetime of the supervisor process.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/latch-sh/latch/internal/domain/policy"
)

// PolicyStore is a thread-safe in-memory policy.Store.
type PolicyStore struct {
	mu       sync.RWMutex
	policies map[string]*policy.Document
}

// NewPolicyStore creates an empty store.
func NewPolicyStore() *PolicyStore {
	return &PolicyStore{policies: make(map[string]*policy.Document)}
}

// Get returns a copy of the policy; callers may mutate it freely.
func (s *PolicyStore) Get(ctx context.Context, id string) (*policy.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.policies[id]
	if !ok {
		return nil, policy.ErrPolicyNotFound
	}
	return doc.Clone(), nil
}

// List returns copies of all policies, ordered by id for stable output.
func (s *PolicyStore) List(ctx context.Context) ([]policy.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.policies))
	for id := range s.policies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]policy.Document, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.policies[id].Clone())
	}
	return out, nil
}

// Save upserts a policy by id, storing a copy.
func (s *PolicyStore) Save(ctx context.Context, doc *policy.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[doc.ID] = doc.Clone()
	return nil
}

// Delete removes a policy.
func (s *PolicyStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[id]; !ok {
		return policy.ErrPolicyNotFound
	}
	delete(s.policies, id)
	return nil
}

// Compile-time interface verification.
var _ policy.Store = (*PolicyStore)(nil)
