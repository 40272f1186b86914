// Package settings holds user preferences the core consults at decision
// time. Values are strings; absence is distinct from any value.
package settings

import (
	"context"
	"errors"
)

// KeyAutoAccept controls prompt handling: unset or "true" means
// prompt-requiring calls are allowed without asking, "false" parks them for
// user confirmation.
const KeyAutoAccept = "auto-accept"

// ErrNotFound is returned for unset keys.
var ErrNotFound = errors.New("setting not found")

// Store reads and writes preference values.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}
