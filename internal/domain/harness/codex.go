package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/latch-sh/latch/internal/domain/policy"
	"github.com/latch-sh/latch/internal/domain/tool"
)

// CodexGenerator writes .codex/config.toml (fenced block), the prefix-rule
// file, and an optional notify hook script.
type CodexGenerator struct{}

const (
	codexMarkerStart = "# latch:mcp:start"
	codexMarkerEnd   = "# latch:mcp:end"
)

// approvalModeToCodex maps the policy vocabulary to Codex's.
var approvalModeToCodex = map[string]string{
	"auto":      "never",
	"read-only": "on-request",
	"full":      "untrusted",
}

// sandboxToCodex maps the policy vocabulary to Codex's.
var sandboxToCodex = map[string]string{
	"strict":     "read-only",
	"moderate":   "workspace-write",
	"permissive": "danger-full-access",
}

// defaultEnvExclude keeps credential-bearing variables out of the Codex
// shell environment regardless of policy.
var defaultEnvExclude = []string{
	"AWS_*", "GCP_*", "AZURE_*", "OPENAI_*", "ANTHROPIC_*",
	"*_TOKEN", "*_SECRET", "*_KEY",
}

type codexEnvPolicy struct {
	Inherit string   `toml:"inherit"`
	Exclude []string `toml:"exclude"`
}

type codexMcpServer struct {
	DisabledTools []string `toml:"disabled_tools"`
}

type codexConfig struct {
	ApprovalPolicy         string                    `toml:"approval_policy"`
	SandboxMode            string                    `toml:"sandbox_mode"`
	ShellEnvironmentPolicy codexEnvPolicy            `toml:"shell_environment_policy"`
	Features               map[string]bool           `toml:"features,omitempty"`
	McpServers             map[string]codexMcpServer `toml:"mcp_servers,omitempty"`
}

// Enforce renders the fenced TOML block, the rules file, and the notify
// script when a callback is active.
func (g *CodexGenerator) Enforce(pol *policy.Document, dir string, authz *Authz) (*Result, error) {
	if err := validateAuthz(authz); err != nil {
		return nil, err
	}
	res := &Result{LaunchFlags: g.LaunchFlags(pol)}
	cfg := harnessConfigFor(pol, string(KindCodex))
	perms := pol.Permissions

	block, err := toml.Marshal(g.buildConfig(perms, cfg))
	if err != nil {
		return nil, fmt.Errorf("rendering codex config: %w", err)
	}

	configPath := filepath.Join(dir, ".codex", "config.toml")
	merged, err := spliceFencedBlock(configPath, string(block))
	if err != nil {
		return nil, err
	}
	if err := writeFileAtomic(configPath, []byte(merged), 0o644); err != nil {
		return nil, fmt.Errorf("writing codex config: %w", err)
	}
	res.Files = append(res.Files, configPath)

	rulesPath := filepath.Join(dir, ".codex", "rules", "latch-policy.rules")
	rules := codexRulesFile(perms)
	if err := writeFileAtomic(rulesPath, []byte(rules), 0o644); err != nil {
		return nil, fmt.Errorf("writing codex rules: %w", err)
	}
	res.Files = append(res.Files, rulesPath)

	if authz != nil {
		notifyPath := filepath.Join(dir, ".codex", "latch-notify.sh")
		script := codexNotifyScript(authz)
		if err := writeFileAtomic(notifyPath, []byte(script), 0o755); err != nil {
			return nil, fmt.Errorf("writing notify script: %w", err)
		}
		res.Files = append(res.Files, notifyPath)
	}
	return res, nil
}

// LaunchFlags forces Codex into the mapped modes and suppresses its own
// prompting, since the core owns gating.
func (g *CodexGenerator) LaunchFlags(pol *policy.Document) []string {
	cfg := harnessConfigFor(pol, string(KindCodex))
	return []string{
		"--approval-mode", codexApprovalPolicy(pol.Permissions, cfg),
		"--sandbox", codexSandboxMode(cfg),
		"--full-auto",
	}
}

func (g *CodexGenerator) buildConfig(perms policy.Permissions, cfg policy.HarnessConfig) codexConfig {
	inherit := cfg.EnvInherit
	if inherit == "" {
		inherit = "core"
	}
	exclude := append([]string{}, defaultEnvExclude...)
	exclude = append(exclude, cfg.EnvExclude...)

	features := map[string]bool{}
	for k, v := range cfg.Features {
		features[k] = v
	}
	if !perms.AllowBash {
		features["shell_tool"] = false
	}
	if !perms.AllowNetwork {
		features["web_search"] = false
		features["web_search_request"] = false
	}

	out := codexConfig{
		ApprovalPolicy: codexApprovalPolicy(perms, cfg),
		SandboxMode:    codexSandboxMode(cfg),
		ShellEnvironmentPolicy: codexEnvPolicy{
			Inherit: inherit,
			Exclude: exclude,
		},
		Features: features,
	}

	if disabled := codexDisabledMcpTools(cfg); len(disabled) > 0 {
		out.McpServers = map[string]codexMcpServer{
			"latch-policy": {DisabledTools: disabled},
		}
	}
	return out
}

func codexApprovalPolicy(perms policy.Permissions, cfg policy.HarnessConfig) string {
	mode := cfg.ApprovalMode
	if mode == "" {
		if perms.ConfirmDestructive {
			mode = "full"
		} else {
			mode = "auto"
		}
	}
	if mapped, ok := approvalModeToCodex[mode]; ok {
		return mapped
	}
	return approvalModeToCodex["full"]
}

func codexSandboxMode(cfg policy.HarnessConfig) string {
	sandbox := cfg.Sandbox
	if sandbox == "" {
		sandbox = "moderate"
	}
	if mapped, ok := sandboxToCodex[sandbox]; ok {
		return mapped
	}
	return sandboxToCodex["strict"]
}

// codexDisabledMcpTools flattens MCP denials into Codex "server/tool"
// entries, with server-wide denials expanded to "server/*".
func codexDisabledMcpTools(cfg policy.HarnessConfig) []string {
	var out []string
	for _, rule := range cfg.ToolRules {
		if rule.Decision != policy.DecisionDeny {
			continue
		}
		server, ok := tool.McpServer(rule.Pattern)
		if !ok {
			continue
		}
		parts := strings.SplitN(rule.Pattern, "__", 3)
		if len(parts) == 3 {
			out = append(out, server+"/"+parts[2])
		}
	}
	for _, rule := range cfg.McpServerRules {
		if rule.Decision == policy.DecisionDeny {
			out = append(out, rule.Server+"/*")
		}
	}
	out = append(out, cfg.DisabledMcpTools...)
	return out
}

// regexMetachars detects command-rule patterns that cannot be expressed as
// a shell token prefix. Such rules stay enforced at the authz server only.
const regexMetachars = `\^$.|?*+()[]{}`

// codexRulesFile renders one prefix_rule line per expressible command rule.
func codexRulesFile(perms policy.Permissions) string {
	var b strings.Builder
	b.WriteString("# generated by latch; do not edit\n")
	for _, rule := range policy.EffectiveCommandRules(perms.CommandRules) {
		if strings.ContainsAny(rule.Pattern, regexMetachars) {
			continue
		}
		tokens := strings.Fields(rule.Pattern)
		if len(tokens) == 0 {
			continue
		}
		quoted := make([]string, len(tokens))
		for i, t := range tokens {
			quoted[i] = fmt.Sprintf("%q", t)
		}
		decision := string(rule.Decision)
		if rule.Decision == policy.DecisionDeny {
			decision = "forbidden"
		}
		justification := rule.Reason
		if justification == "" {
			justification = "Latch policy"
		}
		fmt.Fprintf(&b, "prefix_rule(pattern = [%s], decision = %q, justification = %q)\n",
			strings.Join(quoted, ", "), decision, justification)
	}
	return b.String()
}

func codexNotifyScript(authz *Authz) string {
	return fmt.Sprintf(`#!/usr/bin/env bash
# generated by latch; do not edit
curl -s --connect-timeout 3 --max-time 5 \
  -X POST "http://127.0.0.1:%d/notify/%s" \
  -H "Authorization: Bearer %s" \
  -H "Content-Type: application/json" \
  --data-binary "${1:-{}}" >/dev/null 2>&1 || true
exit 0
`, authz.Port, authz.SessionID, authz.Secret)
}

// spliceFencedBlock replaces the content between the latch markers in an
// existing file, appending a new fenced block when no markers are present.
func spliceFencedBlock(path, block string) (string, error) {
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return "", err
	}
	content := string(existing)
	fenced := codexMarkerStart + "\n" + strings.TrimRight(block, "\n") + "\n" + codexMarkerEnd + "\n"

	start := strings.Index(content, codexMarkerStart)
	if start < 0 {
		if content != "" && !strings.HasSuffix(content, "\n") {
			content += "\n"
		}
		return content + fenced, nil
	}
	end := strings.Index(content[start:], codexMarkerEnd)
	if end < 0 {
		return "", fmt.Errorf("%s: start marker without end marker", path)
	}
	end = start + end + len(codexMarkerEnd)
	if end < len(content) && content[end] == '\n' {
		end++
	}
	return content[:start] + fenced + content[end:], nil
}

// Compile-time interface verification.
var _ Generator = (*CodexGenerator)(nil)
