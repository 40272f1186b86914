// Package eval implements the tool-call rule evaluator: a pure function
// from (tool name, tool input, effective policy, harness id) to a verdict.
//
// The effective policy is fully determined before evaluation; the evaluator
// never reads a store.
package eval

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/latch-sh/latch/internal/domain/policy"
	"github.com/latch-sh/latch/internal/domain/tool"
)

// Verdict is the evaluator's output. NeedsPrompt only accompanies an allow:
// the call may proceed, but the user must confirm it first.
type Verdict struct {
	Decision    policy.Decision
	Reason      string
	NeedsPrompt bool
}

// Input is one tool invocation to be judged.
type Input struct {
	ToolName  string
	ToolInput map[string]any
	Policy    *policy.Document
	HarnessID string
}

// ConditionChecker evaluates an optional rule condition expression against
// the invocation. Implementations must be side-effect free; an error means
// the condition (and with it the rule) is skipped.
type ConditionChecker interface {
	Check(expr, toolName string, input map[string]any, harnessID string) (bool, error)
}

// Evaluator applies the decision pipeline. The zero value is usable; Home
// and Conditions refine glob expansion and rule conditions.
type Evaluator struct {
	// Home is the directory `~` expands to in blocked globs.
	Home string
	// Conditions checks optional CEL conditions on rules. Nil means rules
	// with conditions are skipped.
	Conditions ConditionChecker
}

// New returns an evaluator expanding `~` to home.
func New(home string, conditions ConditionChecker) *Evaluator {
	return &Evaluator{Home: home, Conditions: conditions}
}

// Evaluate runs the pipeline in normative order and short-circuits on the
// first verdict:
//
//  1. action-class permission gates
//  2. per-harness tool rules
//  3. MCP server rules
//  4. legacy allowed/denied arrays
//  5. blocked path globs (read/write/edit only)
//  6. command rules (bash/exec/execute only)
//  7. default allow
func (e *Evaluator) Evaluate(in Input) Verdict {
	perms := in.Policy.Permissions
	class := tool.Classify(in.ToolName)
	normalized := tool.Normalize(in.ToolName)

	// Step 1: action-class gates.
	switch class {
	case tool.ActionExecute:
		if !perms.AllowBash {
			return Verdict{Decision: policy.DecisionDeny, Reason: "Policy disallows shell execution."}
		}
	case tool.ActionWrite:
		if !perms.AllowFileWrite {
			return Verdict{Decision: policy.DecisionDeny, Reason: "Policy disallows file writes."}
		}
	case tool.ActionSend:
		if !perms.AllowNetwork {
			return Verdict{Decision: policy.DecisionDeny, Reason: "Policy disallows network access."}
		}
	}

	needsPrompt := false
	// ruleMatched suppresses the remaining rule layers (steps 3-4 and 6)
	// once a tool or MCP rule has spoken. Blocked globs still apply.
	ruleMatched := false

	harnessCfg, hasHarnessCfg := in.Policy.Harnesses[in.HarnessID]

	// Step 2: per-harness tool rules, first match wins.
	if hasHarnessCfg {
		for _, rule := range harnessCfg.ToolRules {
			if !matchToolPattern(rule.Pattern, in.ToolName) {
				continue
			}
			if !e.conditionHolds(rule.Condition, in) {
				continue
			}
			switch rule.Decision {
			case policy.DecisionDeny:
				return Verdict{
					Decision: policy.DecisionDeny,
					Reason:   fmt.Sprintf("Tool %q is denied by policy rule %q.", in.ToolName, rule.Pattern),
				}
			case policy.DecisionPrompt:
				needsPrompt = true
			}
			ruleMatched = true
			break
		}
	}

	// Step 3: MCP server rules.
	if !ruleMatched && hasHarnessCfg {
		if server, ok := tool.McpServer(in.ToolName); ok {
			for _, rule := range harnessCfg.McpServerRules {
				if !strings.EqualFold(rule.Server, server) {
					continue
				}
				switch rule.Decision {
				case policy.DecisionDeny:
					return Verdict{
						Decision: policy.DecisionDeny,
						Reason:   fmt.Sprintf("MCP server %q is denied by policy.", server),
					}
				case policy.DecisionPrompt:
					needsPrompt = true
				}
				ruleMatched = true
				break
			}
		}
	}

	// Step 4: legacy allowed/denied arrays.
	if !ruleMatched && hasHarnessCfg {
		if containsFold(harnessCfg.DeniedTools, in.ToolName) {
			return Verdict{
				Decision: policy.DecisionDeny,
				Reason:   fmt.Sprintf("Tool %q is in the denied tools list.", in.ToolName),
			}
		}
		if harnessCfg.AllowedTools != nil && !containsFold(harnessCfg.AllowedTools, in.ToolName) {
			return Verdict{
				Decision: policy.DecisionDeny,
				Reason:   fmt.Sprintf("Tool %q is not in the allowed tools list.", in.ToolName),
			}
		}
	}

	// Step 5: blocked globs gate file tools even when a rule already allowed
	// the tool name.
	if normalized == "read" || normalized == "write" || normalized == "edit" {
		if path := stringField(in.ToolInput, "file_path", "path"); path != "" {
			for _, glob := range perms.BlockedGlobs {
				if MatchGlob(path, glob, e.Home) {
					return Verdict{
						Decision: policy.DecisionDeny,
						Reason:   fmt.Sprintf("File path matches blocked pattern '%s'.", glob),
					}
				}
			}
		}
	}

	// Step 6: command rules.
	if !ruleMatched && (normalized == "bash" || normalized == "exec" || normalized == "execute") {
		command := stringField(in.ToolInput, "command")
		if command != "" {
			rules := policy.EffectiveCommandRules(perms.CommandRules)
		scan:
			for _, rule := range rules {
				re, err := regexp.Compile("(?i)" + rule.Pattern)
				if err != nil {
					// Malformed pattern: skip this rule, keep evaluating.
					continue
				}
				if !re.MatchString(command) {
					continue
				}
				if !e.conditionHolds(rule.Condition, in) {
					continue
				}
				switch rule.Decision {
				case policy.DecisionDeny:
					reason := rule.Reason
					if reason == "" {
						reason = fmt.Sprintf("Command matches blocked pattern '%s'.", rule.Pattern)
					}
					return Verdict{Decision: policy.DecisionDeny, Reason: reason}
				case policy.DecisionPrompt:
					// A prompt match ends the scan the same way an allow does.
					// Later rules, deny rules included, are not consulted.
					needsPrompt = true
					break scan
				case policy.DecisionAllow:
					break scan
				}
			}
		}
	}

	// Step 7: default allow.
	return Verdict{Decision: policy.DecisionAllow, NeedsPrompt: needsPrompt}
}

// conditionHolds evaluates an optional rule condition. Rules with a
// condition are skipped when no checker is configured or the expression
// fails to evaluate; an unconditioned rule always holds.
func (e *Evaluator) conditionHolds(expr string, in Input) bool {
	if expr == "" {
		return true
	}
	if e.Conditions == nil {
		return false
	}
	ok, err := e.Conditions.Check(expr, in.ToolName, in.ToolInput, in.HarnessID)
	if err != nil {
		return false
	}
	return ok
}

// matchToolPattern implements tool-rule matching: exact, trailing-`*`
// prefix, or case-insensitive equality. Wildcards anywhere else in the
// pattern are not supported and match literally.
func matchToolPattern(pattern, name string) bool {
	if pattern == name {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		prefix := pattern[:len(pattern)-1]
		return len(name) >= len(prefix) && strings.EqualFold(name[:len(prefix)], prefix)
	}
	return strings.EqualFold(pattern, name)
}

// stringField returns the first present string value among keys.
func stringField(input map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := input[k].(string); ok {
			return v
		}
	}
	return ""
}

func containsFold(list []string, name string) bool {
	for _, v := range list {
		if strings.EqualFold(v, name) {
			return true
		}
	}
	return false
}
