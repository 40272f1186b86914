package policy

// This file implements the two pure resolution operations:
//
//   - ComputeStrictestBaseline: fold every stored policy into a synthetic
//     most-restrictive policy, used when a session's assigned policy cannot
//     be resolved.
//   - Resolve: layer a per-session override on top of a base document to
//     produce the effective policy for one decision.
//
// Neither function performs I/O and neither mutates its inputs.

import "sort"

// sandboxStrictness orders Codex sandbox levels, most restrictive last.
var sandboxStrictness = map[string]int{
	"permissive": 0,
	"moderate":   1,
	"strict":     2,
}

// approvalModeStrictness orders Codex approval modes by how much they gate,
// most restrictive last ("full" prompts for everything).
var approvalModeStrictness = map[string]int{
	"auto":      0,
	"read-only": 1,
	"full":      2,
}

// ComputeStrictestBaseline combines every policy into a synthetic
// most-restrictive policy. Boolean allows AND together, confirmDestructive
// ORs, blocked globs union in first-occurrence order, and command rules
// concatenate in enumeration order. Per-harness tool and MCP-server rules
// merge by key with the stricter decision winning.
//
// When harnessID is non-empty only that harness's configs are merged;
// otherwise every harness id seen across the inputs is merged independently.
//
// An empty input produces a fully restrictive document: nothing is known
// about user intent, so everything gates.
func ComputeStrictestBaseline(policies []Document, harnessID string) *Document {
	out := &Document{
		ID:          "strictest-baseline",
		Name:        "Strictest baseline",
		Description: "Synthetic most-restrictive merge of all stored policies.",
		Permissions: Permissions{ConfirmDestructive: true},
	}
	if len(policies) == 0 {
		return out
	}

	out.Permissions.AllowBash = true
	out.Permissions.AllowNetwork = true
	out.Permissions.AllowFileWrite = true
	out.Permissions.ConfirmDestructive = false

	seenGlobs := make(map[string]struct{})
	var commandRules []CommandRule
	commandRulesPresent := false

	type harnessAcc struct {
		cfg        HarnessConfig
		toolIdx    map[string]int
		mcpIdx     map[string]int
		allowedSet map[string]int // name -> number of lists containing it
		allowedN   int            // number of policies with AllowedTools present
	}
	harnesses := make(map[string]*harnessAcc)

	acc := func(id string) *harnessAcc {
		h, ok := harnesses[id]
		if !ok {
			h = &harnessAcc{
				toolIdx:    make(map[string]int),
				mcpIdx:     make(map[string]int),
				allowedSet: make(map[string]int),
			}
			harnesses[id] = h
		}
		return h
	}

	for _, p := range policies {
		perms := p.Permissions
		out.Permissions.AllowBash = out.Permissions.AllowBash && perms.AllowBash
		out.Permissions.AllowNetwork = out.Permissions.AllowNetwork && perms.AllowNetwork
		out.Permissions.AllowFileWrite = out.Permissions.AllowFileWrite && perms.AllowFileWrite
		out.Permissions.ConfirmDestructive = out.Permissions.ConfirmDestructive || perms.ConfirmDestructive

		for _, g := range perms.BlockedGlobs {
			if _, ok := seenGlobs[g]; ok {
				continue
			}
			seenGlobs[g] = struct{}{}
			out.Permissions.BlockedGlobs = append(out.Permissions.BlockedGlobs, g)
		}

		// Absent command rules mean "defaults"; that meaning survives the
		// merge only if every policy leaves them absent.
		if perms.CommandRules != nil {
			commandRulesPresent = true
			commandRules = append(commandRules, perms.CommandRules...)
		}

		for id, cfg := range p.Harnesses {
			if harnessID != "" && id != harnessID {
				continue
			}
			h := acc(id)

			for _, tr := range cfg.ToolRules {
				if i, ok := h.toolIdx[tr.Pattern]; ok {
					h.cfg.ToolRules[i].Decision = Stricter(h.cfg.ToolRules[i].Decision, tr.Decision)
				} else {
					h.toolIdx[tr.Pattern] = len(h.cfg.ToolRules)
					h.cfg.ToolRules = append(h.cfg.ToolRules, tr)
				}
			}
			for _, mr := range cfg.McpServerRules {
				if i, ok := h.mcpIdx[mr.Server]; ok {
					h.cfg.McpServerRules[i].Decision = Stricter(h.cfg.McpServerRules[i].Decision, mr.Decision)
				} else {
					h.mcpIdx[mr.Server] = len(h.cfg.McpServerRules)
					h.cfg.McpServerRules = append(h.cfg.McpServerRules, mr)
				}
			}

			// Legacy arrays: denied tools union; allowed tools intersect
			// across the policies that declare them.
			for _, name := range cfg.DeniedTools {
				if !containsString(h.cfg.DeniedTools, name) {
					h.cfg.DeniedTools = append(h.cfg.DeniedTools, name)
				}
			}
			if cfg.AllowedTools != nil {
				h.allowedN++
				for _, name := range cfg.AllowedTools {
					h.allowedSet[name]++
				}
			}

			for _, name := range cfg.DisabledMcpTools {
				if !containsString(h.cfg.DisabledMcpTools, name) {
					h.cfg.DisabledMcpTools = append(h.cfg.DisabledMcpTools, name)
				}
			}
			if sandboxStrictness[cfg.Sandbox] > sandboxStrictness[h.cfg.Sandbox] || h.cfg.Sandbox == "" {
				if cfg.Sandbox != "" {
					h.cfg.Sandbox = cfg.Sandbox
				}
			}
			if approvalModeStrictness[cfg.ApprovalMode] > approvalModeStrictness[h.cfg.ApprovalMode] || h.cfg.ApprovalMode == "" {
				if cfg.ApprovalMode != "" {
					h.cfg.ApprovalMode = cfg.ApprovalMode
				}
			}
		}
	}

	if commandRulesPresent {
		if commandRules == nil {
			// Someone declared an explicit opt-out; keep it distinguishable
			// from "absent".
			commandRules = []CommandRule{}
		}
		out.Permissions.CommandRules = commandRules
	}

	if len(harnesses) > 0 {
		out.Harnesses = make(map[string]HarnessConfig, len(harnesses))
		for id, h := range harnesses {
			if h.allowedN > 0 {
				allowed := make([]string, 0, len(h.allowedSet))
				for name, n := range h.allowedSet {
					if n == h.allowedN {
						allowed = append(allowed, name)
					}
				}
				sort.Strings(allowed)
				h.cfg.AllowedTools = allowed
			}
			out.Harnesses[id] = h.cfg
		}
	}

	return out
}

// Resolve layers override on top of base and returns the effective policy.
// Override permission values apply only when present; blocked globs are the
// de-duplicated union; command rules from the override replace the base list
// entirely. Per-harness configs merge field by field, with tool and
// MCP-server rules merged by key (pattern / server) and the override entry
// replacing the base one.
func Resolve(base *Document, override *Override) *Document {
	out := base.Clone()
	if override == nil {
		return out
	}

	if p := override.Permissions; p != nil {
		if p.AllowBash != nil {
			out.Permissions.AllowBash = *p.AllowBash
		}
		if p.AllowNetwork != nil {
			out.Permissions.AllowNetwork = *p.AllowNetwork
		}
		if p.AllowFileWrite != nil {
			out.Permissions.AllowFileWrite = *p.AllowFileWrite
		}
		if p.ConfirmDestructive != nil {
			out.Permissions.ConfirmDestructive = *p.ConfirmDestructive
		}
		for _, g := range p.BlockedGlobs {
			if !containsString(out.Permissions.BlockedGlobs, g) {
				out.Permissions.BlockedGlobs = append(out.Permissions.BlockedGlobs, g)
			}
		}
		if p.CommandRules != nil {
			out.Permissions.CommandRules = make([]CommandRule, len(p.CommandRules))
			copy(out.Permissions.CommandRules, p.CommandRules)
		}
	}

	for id, ovr := range override.Harnesses {
		if out.Harnesses == nil {
			out.Harnesses = make(map[string]HarnessConfig)
		}
		out.Harnesses[id] = mergeHarnessConfig(out.Harnesses[id], ovr)
	}

	return out
}

// mergeHarnessConfig merges an override harness config into a base one.
func mergeHarnessConfig(base, ovr HarnessConfig) HarnessConfig {
	out := cloneHarnessConfig(base)

	if ovr.ToolRules != nil {
		idx := make(map[string]int, len(out.ToolRules))
		for i, tr := range out.ToolRules {
			idx[tr.Pattern] = i
		}
		for _, tr := range ovr.ToolRules {
			if i, ok := idx[tr.Pattern]; ok {
				out.ToolRules[i] = tr
			} else {
				idx[tr.Pattern] = len(out.ToolRules)
				out.ToolRules = append(out.ToolRules, tr)
			}
		}
	}
	if ovr.McpServerRules != nil {
		idx := make(map[string]int, len(out.McpServerRules))
		for i, mr := range out.McpServerRules {
			idx[mr.Server] = i
		}
		for _, mr := range ovr.McpServerRules {
			if i, ok := idx[mr.Server]; ok {
				out.McpServerRules[i] = mr
			} else {
				idx[mr.Server] = len(out.McpServerRules)
				out.McpServerRules = append(out.McpServerRules, mr)
			}
		}
	}

	if ovr.AllowedTools != nil {
		out.AllowedTools = cloneStrings(ovr.AllowedTools)
	}
	if ovr.DeniedTools != nil {
		out.DeniedTools = cloneStrings(ovr.DeniedTools)
	}
	if ovr.ApprovalMode != "" {
		out.ApprovalMode = ovr.ApprovalMode
	}
	if ovr.Sandbox != "" {
		out.Sandbox = ovr.Sandbox
	}
	if ovr.EnvInherit != "" {
		out.EnvInherit = ovr.EnvInherit
	}
	if ovr.EnvExclude != nil {
		out.EnvExclude = cloneStrings(ovr.EnvExclude)
	}
	if ovr.Features != nil {
		out.Features = make(map[string]bool, len(ovr.Features))
		for k, v := range ovr.Features {
			out.Features[k] = v
		}
	}
	if ovr.DisabledMcpTools != nil {
		out.DisabledMcpTools = cloneStrings(ovr.DisabledMcpTools)
	}
	return out
}

func containsString(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

