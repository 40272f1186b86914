// Package secrets defines how the core hands secrets to MCP wrapper
// processes. Raw secret values never appear in generated config files or
// logs; wrappers fetch them at spawn time over the loopback server.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ErrSecretNotFound is returned when a vault has no value for a key.
var ErrSecretNotFound = errors.New("secret not found")

// Vault resolves secret keys to values.
type Vault interface {
	Resolve(ctx context.Context, key string) (string, error)
}

// Binding maps one environment variable to a vault key.
type Binding struct {
	EnvVar string
	Key    string
}

// ParseResolveSpec parses a LATCH_RESOLVE value of the form
// "VAR1=secret:KEY1;VAR2=secret:KEY2". Empty segments are ignored;
// malformed segments are errors so a typo fails the wrapper loudly instead
// of launching a server without its credentials.
func ParseResolveSpec(spec string) ([]Binding, error) {
	var out []Binding
	for _, seg := range strings.Split(spec, ";") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		envVar, ref, ok := strings.Cut(seg, "=")
		if !ok || envVar == "" {
			return nil, fmt.Errorf("malformed resolve segment %q", seg)
		}
		key, ok := strings.CutPrefix(ref, "secret:")
		if !ok || key == "" {
			return nil, fmt.Errorf("resolve segment %q: expected secret:<key>", seg)
		}
		out = append(out, Binding{EnvVar: envVar, Key: key})
	}
	return out, nil
}

// Fingerprint returns a short stable digest of a secret value, safe to log
// for correlation. It is not reversible and never stands in for the value.
func Fingerprint(value string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(value))
}
