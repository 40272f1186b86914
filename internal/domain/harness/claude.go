package harness

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/latch-sh/latch/internal/domain/policy"
	"github.com/latch-sh/latch/internal/domain/tool"
)

// ClaudeGenerator writes .claude/settings.json and, when a callback is
// active, the PreToolUse hook script.
type ClaudeGenerator struct{}

// generatedKey marks settings.json as managed. Stored inside the
// permissions block since JSON has no comments.
const generatedKey = "_generated"

const generatedNote = "generated by latch; do not edit"

// Enforce merges deny/allow lists into an existing settings.json,
// preserving every key except permissions and hooks.
func (g *ClaudeGenerator) Enforce(pol *policy.Document, dir string, authz *Authz) (*Result, error) {
	if err := validateAuthz(authz); err != nil {
		return nil, err
	}
	res := &Result{}

	settingsPath := filepath.Join(dir, ".claude", "settings.json")
	settings, err := readJSONObject(settingsPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", settingsPath, err)
	}

	deny, allow := claudePermissionLists(pol)
	settings["permissions"] = map[string]any{
		generatedKey: generatedNote,
		"deny":       deny,
		"allow":      allow,
	}

	if authz != nil {
		hookPath := filepath.Join(dir, ".claude", "latch-authz.sh")
		script := claudeHookScript(authz)
		if err := writeFileAtomic(hookPath, []byte(script), 0o755); err != nil {
			return nil, fmt.Errorf("writing hook script: %w", err)
		}
		res.Files = append(res.Files, hookPath)

		settings["hooks"] = map[string]any{
			"PreToolUse": []any{
				map[string]any{
					"matcher": "*",
					"hooks": []any{
						map[string]any{"type": "command", "command": hookPath},
					},
				},
			},
		}
	} else {
		delete(settings, "hooks")
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return nil, err
	}
	data = append(data, '\n')
	if err := writeFileAtomic(settingsPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("writing settings: %w", err)
	}
	res.Files = append(res.Files, settingsPath)
	return res, nil
}

// LaunchFlags is empty for Claude: enforcement rides on settings and hooks.
func (g *ClaudeGenerator) LaunchFlags(pol *policy.Document) []string {
	return nil
}

// claudePermissionLists maps the policy onto Claude's static deny/allow
// permission entries. Prompt-decision rules are deliberately absent: the
// runtime hook surfaces those.
func claudePermissionLists(pol *policy.Document) (deny, allow []string) {
	deny = []string{}
	allow = []string{}
	perms := pol.Permissions

	if !perms.AllowBash {
		deny = append(deny, "Bash")
	}
	if !perms.AllowFileWrite {
		deny = append(deny, "Write", "Edit")
	}
	if !perms.AllowNetwork {
		deny = append(deny, "WebFetch", "WebSearch")
	}
	for _, glob := range perms.BlockedGlobs {
		deny = append(deny,
			fmt.Sprintf("Write(%s)", glob),
			fmt.Sprintf("Edit(%s)", glob),
			fmt.Sprintf("Read(%s)", glob),
		)
	}

	cfg := harnessConfigFor(pol, string(KindClaude))
	for _, rule := range cfg.ToolRules {
		switch rule.Decision {
		case policy.DecisionDeny:
			deny = append(deny, rule.Pattern)
		case policy.DecisionAllow:
			// Only harmless read-class tools are statically allowed; an
			// allow rule on anything heavier still goes through the hook.
			if tool.Classify(rule.Pattern) == tool.ActionRead {
				allow = append(allow, rule.Pattern)
			}
		}
	}
	return deny, allow
}

// claudeHookScript renders the PreToolUse callback. HTTP 200 lets the call
// proceed but asks Claude to surface its native prompt, 403 blocks, and any
// transport failure fails open so a dead supervisor does not brick the
// harness.
func claudeHookScript(authz *Authz) string {
	return fmt.Sprintf(`#!/usr/bin/env bash
# generated by latch; do not edit
set -u
INPUT=$(cat)
STATUS=$(printf '%%s' "$INPUT" | curl -s -o /dev/null -w '%%{http_code}' \
  --connect-timeout 3 --max-time 5 \
  -X POST "http://127.0.0.1:%d/authorize/%s" \
  -H "Authorization: Bearer %s" \
  -H "Content-Type: application/json" \
  --data-binary @-)
if [ "$STATUS" = "403" ]; then
  echo "Blocked by latch policy" >&2
  exit 2
fi
echo '{"hookSpecificOutput":{"hookEventName":"PreToolUse","permissionDecision":"ask","permissionDecisionReason":"Supervised by latch"}}'
exit 0
`, authz.Port, authz.SessionID, authz.Secret)
}

// readJSONObject loads a JSON object, returning an empty map when the file
// does not exist.
func readJSONObject(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		obj = map[string]any{}
	}
	return obj, nil
}

// Compile-time interface verification.
var _ Generator = (*ClaudeGenerator)(nil)
