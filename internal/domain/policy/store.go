package policy

import (
	"context"
	"errors"
)

// ErrPolicyNotFound is returned when a policy id has no stored document.
var ErrPolicyNotFound = errors.New("policy not found")

// Store persists policy documents.
// Interface owned by the domain; implementations live in adapters
// (in-memory for runtime state, config-seeded at startup).
type Store interface {
	// Get returns the policy with the given id.
	// Returns ErrPolicyNotFound if no such policy exists.
	Get(ctx context.Context, id string) (*Document, error)

	// List returns every stored policy.
	List(ctx context.Context) ([]Document, error)

	// Save creates or updates a policy.
	Save(ctx context.Context, doc *Document) error

	// Delete removes a policy by id.
	// Returns ErrPolicyNotFound if no such policy exists.
	Delete(ctx context.Context, id string) error
}
