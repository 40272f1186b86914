// Package harness generates harness-native enforcement artefacts: the
// config files and hook scripts that make a harness consult the loopback
// authorization server even when it was launched outside the core's direct
// request path.
//
// Each supported harness is a closed variant with its own generator. The
// artefacts are ancillary: the authorization server remains the source of
// truth, and generated files only narrow what the harness attempts.
package harness

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/latch-sh/latch/internal/domain/policy"
	"github.com/latch-sh/latch/internal/domain/session"
)

// Kind identifies a supported harness.
type Kind string

const (
	KindClaude   Kind = "claude"
	KindCodex    Kind = "codex"
	KindOpenClaw Kind = "openclaw"
	KindDroid    Kind = "droid"
)

// Authz carries the loopback callback parameters interpolated into hook
// scripts and plugins. Nil Authz means enforcement files are generated
// without a runtime callback.
type Authz struct {
	Port      int
	SessionID string
	Secret    string
}

// Result reports what a generator produced.
type Result struct {
	// Files lists the paths written, for cleanup and logging.
	Files []string
	// LaunchFlags are appended to the harness launch command.
	LaunchFlags []string
}

// Generator produces enforcement artefacts for one harness kind.
type Generator interface {
	// Enforce writes the harness's config files under dir.
	Enforce(pol *policy.Document, dir string, authz *Authz) (*Result, error)
	// LaunchFlags returns flags to append to the launch command.
	LaunchFlags(pol *policy.Document) []string
}

// ForKind returns the generator for a harness kind. Unknown kinds get the
// fallback generator, which writes no files and relies on launch flags.
func ForKind(kind Kind) Generator {
	switch kind {
	case KindClaude:
		return &ClaudeGenerator{}
	case KindCodex:
		return &CodexGenerator{}
	case KindOpenClaw:
		return &OpenClawGenerator{}
	default:
		return &FallbackGenerator{}
	}
}

// validateAuthz rejects callback parameters that are unsafe to interpolate
// into scripts or config files.
func validateAuthz(authz *Authz) error {
	if authz == nil {
		return nil
	}
	if err := session.ValidateID(authz.SessionID); err != nil {
		return fmt.Errorf("authz session id %q: %w", authz.SessionID, err)
	}
	if authz.Port <= 0 || authz.Port > 65535 {
		return fmt.Errorf("authz port %d out of range", authz.Port)
	}
	return nil
}

// writeFileAtomic writes to a temp file in the target directory and renames
// it into place, so a failed write never leaves a partial config behind.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// harnessConfigFor returns the policy's config block for the harness id,
// zero-valued when absent.
func harnessConfigFor(pol *policy.Document, id string) policy.HarnessConfig {
	if pol == nil {
		return policy.HarnessConfig{}
	}
	return pol.Harnesses[id]
}
