package harness

import "github.com/latch-sh/latch/internal/domain/policy"

// FallbackGenerator covers Droid and any harness the core has no native
// config format for. It writes nothing and relies on launch flags that hand
// gating to the supervisor.
type FallbackGenerator struct{}

// Enforce writes no files.
func (g *FallbackGenerator) Enforce(pol *policy.Document, dir string, authz *Authz) (*Result, error) {
	if err := validateAuthz(authz); err != nil {
		return nil, err
	}
	return &Result{LaunchFlags: g.LaunchFlags(pol)}, nil
}

// LaunchFlags disables the harness's own permission prompts so the
// supervisor is the only gate.
func (g *FallbackGenerator) LaunchFlags(pol *policy.Document) []string {
	return []string{"--auto", "high", "--skip-permissions-unsafe"}
}

// Compile-time interface verification.
var _ Generator = (*FallbackGenerator)(nil)
