// Package session tracks harness sessions registered with the supervisor.
// Sessions are process-local: they exist only while the core runs and are
// never persisted.
package session

import (
	"errors"
	"regexp"
	"sync"

	"github.com/latch-sh/latch/internal/domain/policy"
)

// ErrSessionNotFound is returned for unregistered session ids.
var ErrSessionNotFound = errors.New("session not found")

// ErrInvalidSessionID is returned when a session id fails validation.
var ErrInvalidSessionID = errors.New("invalid session id")

// idPattern constrains session ids so they are safe to embed in URL paths,
// shell hook scripts, TOML and JSON without escaping.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateID checks a session id against the allowed shape.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return ErrInvalidSessionID
	}
	return nil
}

// Registered binds a session id to a harness and a policy.
type Registered struct {
	SessionID string
	HarnessID string
	PolicyID  string
	// Override is an optional per-session policy adjustment.
	Override *policy.Override
}

// Registry is the in-memory session table. Thread-safe.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Registered
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]Registered)}
}

// Register upserts a session. Registering an existing id replaces its
// binding (idempotent upsert).
func (r *Registry) Register(s Registered) error {
	if err := ValidateID(s.SessionID); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.SessionID] = s
	return nil
}

// Unregister removes a session. Removing an unknown id is a no-op: the
// caller is expressing "this session must not exist", which already holds.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Get returns the session for id.
func (r *Registry) Get(id string) (Registered, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return Registered{}, ErrSessionNotFound
	}
	return s, nil
}

// List returns all registered sessions.
func (r *Registry) List() []Registered {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Registered, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
