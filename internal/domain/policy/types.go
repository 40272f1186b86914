// Package policy contains the policy document model and the resolver that
// produces the effective policy for a single authorization decision.
package policy

// Decision is the outcome a rule assigns to a matching tool call.
type Decision string

const (
	// DecisionAllow permits the tool call to proceed.
	DecisionAllow Decision = "allow"
	// DecisionPrompt permits the tool call but requires user confirmation.
	DecisionPrompt Decision = "prompt"
	// DecisionDeny blocks the tool call.
	DecisionDeny Decision = "deny"
)

// strictness orders decisions for most-restrictive-wins merges.
var strictness = map[Decision]int{
	DecisionAllow:  0,
	DecisionPrompt: 1,
	DecisionDeny:   2,
}

// Stricter returns the more restrictive of two decisions (deny > prompt > allow).
func Stricter(a, b Decision) Decision {
	if strictness[b] > strictness[a] {
		return b
	}
	return a
}

// CommandRule matches a candidate shell command against a case-insensitive
// regular expression. Rules are evaluated in order; the first match wins.
type CommandRule struct {
	// Pattern is a case-insensitive regular expression over the command string.
	Pattern string `json:"pattern" yaml:"pattern"`
	// Decision is applied when the pattern matches.
	Decision Decision `json:"decision" yaml:"decision"`
	// Reason is surfaced to the harness when the rule denies.
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
	// Condition is an optional CEL expression over {tool, input, harness}
	// that must also hold for the rule to apply. Invalid conditions are
	// skipped, like invalid patterns.
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// ToolRule matches a tool name exactly (case-insensitive) or as a
// trailing-wildcard prefix ("mcp__github*").
type ToolRule struct {
	Pattern   string   `json:"pattern" yaml:"pattern"`
	Decision  Decision `json:"decision" yaml:"decision"`
	Condition string   `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// McpServerRule applies a decision to every tool of one MCP server.
// It matches when the tool name carries the canonical mcp__<server>__<tool>
// namespace and <server> equals Server case-insensitively.
type McpServerRule struct {
	Server   string   `json:"server" yaml:"server"`
	Decision Decision `json:"decision" yaml:"decision"`
}

// Permissions are the broad gates of a policy document.
//
// CommandRules distinguishes absent from empty: a nil slice means "use the
// built-in default rules", a non-nil empty slice means "opt out of all
// defaults". JSON and YAML decoding preserve that distinction.
type Permissions struct {
	AllowBash          bool          `json:"allowBash" yaml:"allowBash"`
	AllowNetwork       bool          `json:"allowNetwork" yaml:"allowNetwork"`
	AllowFileWrite     bool          `json:"allowFileWrite" yaml:"allowFileWrite"`
	ConfirmDestructive bool          `json:"confirmDestructive" yaml:"confirmDestructive"`
	BlockedGlobs       []string      `json:"blockedGlobs,omitempty" yaml:"blockedGlobs,omitempty"`
	CommandRules       []CommandRule `json:"commandRules,omitempty" yaml:"commandRules,omitempty"`
}

// HarnessConfig carries per-harness rules and harness-specific knobs.
// ApprovalMode, Sandbox, EnvInherit, EnvExclude, Features and
// DisabledMcpTools are only meaningful for the Codex harness.
type HarnessConfig struct {
	ToolRules      []ToolRule      `json:"toolRules,omitempty" yaml:"toolRules,omitempty"`
	McpServerRules []McpServerRule `json:"mcpServerRules,omitempty" yaml:"mcpServerRules,omitempty"`

	// AllowedTools and DeniedTools are the legacy exact-name arrays kept for
	// backward compatibility with older policy documents.
	AllowedTools []string `json:"allowedTools,omitempty" yaml:"allowedTools,omitempty"`
	DeniedTools  []string `json:"deniedTools,omitempty" yaml:"deniedTools,omitempty"`

	ApprovalMode     string          `json:"approvalMode,omitempty" yaml:"approvalMode,omitempty"`
	Sandbox          string          `json:"sandbox,omitempty" yaml:"sandbox,omitempty"`
	EnvInherit       string          `json:"envInherit,omitempty" yaml:"envInherit,omitempty"`
	EnvExclude       []string        `json:"envExclude,omitempty" yaml:"envExclude,omitempty"`
	Features         map[string]bool `json:"features,omitempty" yaml:"features,omitempty"`
	DisabledMcpTools []string        `json:"disabledMcpTools,omitempty" yaml:"disabledMcpTools,omitempty"`
}

// Document is a complete policy, addressable by ID.
type Document struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	Permissions Permissions `json:"permissions" yaml:"permissions"`

	// Harnesses maps a harness id ("claude", "codex", "openclaw", ...) to
	// its per-harness configuration.
	Harnesses map[string]HarnessConfig `json:"harnesses,omitempty" yaml:"harnesses,omitempty"`
}

// PermissionsPatch is the permissions part of a session override. Pointer
// fields distinguish "not present" (keep base) from an explicit value.
type PermissionsPatch struct {
	AllowBash          *bool    `json:"allowBash,omitempty" yaml:"allowBash,omitempty"`
	AllowNetwork       *bool    `json:"allowNetwork,omitempty" yaml:"allowNetwork,omitempty"`
	AllowFileWrite     *bool    `json:"allowFileWrite,omitempty" yaml:"allowFileWrite,omitempty"`
	ConfirmDestructive *bool    `json:"confirmDestructive,omitempty" yaml:"confirmDestructive,omitempty"`
	BlockedGlobs       []string `json:"blockedGlobs,omitempty" yaml:"blockedGlobs,omitempty"`
	// CommandRules replaces the base list entirely when non-nil; ordering is
	// semantically significant, so per-rule merging is not attempted.
	CommandRules []CommandRule `json:"commandRules,omitempty" yaml:"commandRules,omitempty"`
}

// Override is a per-session adjustment layered over a base policy document.
type Override struct {
	Permissions *PermissionsPatch        `json:"permissions,omitempty" yaml:"permissions,omitempty"`
	Harnesses   map[string]HarnessConfig `json:"harnesses,omitempty" yaml:"harnesses,omitempty"`
}

// Clone returns a deep copy of the document so callers can mutate the result
// without affecting store-held state.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	out.Permissions = clonePermissions(d.Permissions)
	if d.Harnesses != nil {
		out.Harnesses = make(map[string]HarnessConfig, len(d.Harnesses))
		for k, v := range d.Harnesses {
			out.Harnesses[k] = cloneHarnessConfig(v)
		}
	}
	return &out
}

func clonePermissions(p Permissions) Permissions {
	out := p
	out.BlockedGlobs = cloneStrings(p.BlockedGlobs)
	if p.CommandRules != nil {
		out.CommandRules = make([]CommandRule, len(p.CommandRules))
		copy(out.CommandRules, p.CommandRules)
	}
	return out
}

func cloneHarnessConfig(h HarnessConfig) HarnessConfig {
	out := h
	if h.ToolRules != nil {
		out.ToolRules = make([]ToolRule, len(h.ToolRules))
		copy(out.ToolRules, h.ToolRules)
	}
	if h.McpServerRules != nil {
		out.McpServerRules = make([]McpServerRule, len(h.McpServerRules))
		copy(out.McpServerRules, h.McpServerRules)
	}
	out.AllowedTools = cloneStrings(h.AllowedTools)
	out.DeniedTools = cloneStrings(h.DeniedTools)
	out.EnvExclude = cloneStrings(h.EnvExclude)
	out.DisabledMcpTools = cloneStrings(h.DisabledMcpTools)
	if h.Features != nil {
		out.Features = make(map[string]bool, len(h.Features))
		for k, v := range h.Features {
			out.Features[k] = v
		}
	}
	return out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
