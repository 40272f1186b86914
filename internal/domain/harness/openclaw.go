package harness

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/latch-sh/latch/internal/domain/policy"
)

// OpenClawGenerator writes openclaw.json, the authorization plugin, and the
// exec-approvals file.
type OpenClawGenerator struct{}

// Enforce writes the OpenClaw enforcement set under dir.
func (g *OpenClawGenerator) Enforce(pol *policy.Document, dir string, authz *Authz) (*Result, error) {
	if err := validateAuthz(authz); err != nil {
		return nil, err
	}
	res := &Result{}
	perms := pol.Permissions
	cfg := harnessConfigFor(pol, string(KindOpenClaw))

	allow, deny := openClawToolLists(perms, cfg)
	doc := map[string]any{
		"_generated": generatedNote,
		"tools": map[string]any{
			"allow": allow,
			"deny":  deny,
		},
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	data = append(data, '\n')
	configPath := filepath.Join(dir, "openclaw.json")
	if err := writeFileAtomic(configPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("writing openclaw config: %w", err)
	}
	res.Files = append(res.Files, configPath)

	// OpenClaw prompts on exec by itself; approvals are switched off so the
	// plugin is the single gate and the user is not asked twice.
	approvals := map[string]any{
		"_generated": generatedNote,
		"exec":       map[string]string{"security": "full", "ask": "off"},
		"write":      map[string]string{"security": "full", "ask": "off"},
		"read":       map[string]string{"security": "full", "ask": "off"},
	}
	data, err = json.MarshalIndent(approvals, "", "  ")
	if err != nil {
		return nil, err
	}
	data = append(data, '\n')
	approvalsPath := filepath.Join(dir, ".openclaw", "exec-approvals.json")
	if err := writeFileAtomic(approvalsPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("writing exec approvals: %w", err)
	}
	res.Files = append(res.Files, approvalsPath)

	if authz != nil {
		pluginPath := filepath.Join(dir, ".openclaw", "plugins", "latch-authz", "index.js")
		plugin := openClawPlugin(authz, perms.ConfirmDestructive)
		if err := writeFileAtomic(pluginPath, []byte(plugin), 0o644); err != nil {
			return nil, fmt.Errorf("writing plugin: %w", err)
		}
		res.Files = append(res.Files, pluginPath)
	}
	return res, nil
}

// LaunchFlags is empty: OpenClaw is steered entirely by its config files.
func (g *OpenClawGenerator) LaunchFlags(pol *policy.Document) []string {
	return nil
}

func openClawToolLists(perms policy.Permissions, cfg policy.HarnessConfig) (allow, deny []string) {
	allow = []string{}
	deny = []string{}
	if !perms.AllowBash {
		deny = append(deny, "exec")
	}
	if !perms.AllowFileWrite {
		deny = append(deny, "write", "edit")
	}
	if !perms.AllowNetwork {
		deny = append(deny, "fetch", "web_search")
	}
	for _, rule := range cfg.ToolRules {
		switch rule.Decision {
		case policy.DecisionDeny:
			deny = append(deny, rule.Pattern)
		case policy.DecisionAllow:
			allow = append(allow, rule.Pattern)
		}
	}
	return allow, deny
}

// openClawPlugin renders the before_tool_call gate. Unlike the Claude hook
// this one fails closed: OpenClaw has no native prompting fallback worth
// preserving, so an unreachable supervisor blocks the call.
func openClawPlugin(authz *Authz, confirmDestructive bool) string {
	timeoutMs := 5000
	if confirmDestructive {
		// Parked approvals can legitimately take up to the approval
		// timeout, so the plugin must wait at least that long.
		timeoutMs = 120000
	}
	return fmt.Sprintf(`// generated by latch; do not edit
'use strict';
const http = require('http');

module.exports = function latchAuthz() {
  return {
    name: 'latch-authz',
    register(events) {
      events.on('before_tool_call', (call) =>
        new Promise((resolve) => {
          const body = JSON.stringify({
            tool_name: call.toolName,
            tool_input: call.args || {},
          });
          const req = http.request({
            host: '127.0.0.1',
            port: %d,
            path: '/authorize/%s',
            method: 'POST',
            timeout: %d,
            headers: {
              'Authorization': 'Bearer %s',
              'Content-Type': 'application/json',
              'Content-Length': Buffer.byteLength(body),
            },
          }, (res) => {
            let data = '';
            res.on('data', (c) => { data += c; });
            res.on('end', () => {
              if (res.statusCode === 200) {
                resolve({ action: 'allow' });
                return;
              }
              let reason = 'Blocked by latch policy';
              try {
                const parsed = JSON.parse(data);
                if (parsed.reason) reason = parsed.reason;
              } catch (_) {}
              resolve({ action: 'block', reason });
            });
          });
          const block = () => resolve({ action: 'block', reason: 'Latch supervisor unreachable' });
          req.on('error', block);
          req.on('timeout', () => { req.destroy(); block(); });
          req.end(body);
        }));
    },
  };
};
`, authz.Port, authz.SessionID, timeoutMs, authz.Secret)
}

// Compile-time interface verification.
var _ Generator = (*OpenClawGenerator)(nil)
