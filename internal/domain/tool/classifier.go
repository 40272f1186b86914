// Package tool classifies tool invocations into action classes and risk
// levels. Classification is a pure function of the tool name.
package tool

import (
	"regexp"
	"strings"
)

// ActionClass collapses tool names into the four broad permission gates.
type ActionClass string

const (
	ActionRead    ActionClass = "read"
	ActionWrite   ActionClass = "write"
	ActionExecute ActionClass = "execute"
	ActionSend    ActionClass = "send"
)

// Risk grades the blast radius of an action class.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// knownTools maps normalized tool names (lowercase, underscores removed) to
// their action class. Names not present here fall through to the heuristics.
var knownTools = map[string]ActionClass{
	"bash":    ActionExecute,
	"exec":    ActionExecute,
	"execute": ActionExecute,
	"task":    ActionExecute,

	"write":        ActionWrite,
	"edit":         ActionWrite,
	"notebookedit": ActionWrite,

	"read": ActionRead,
	"glob": ActionRead,
	"grep": ActionRead,

	"webfetch":  ActionSend,
	"websearch": ActionSend,
	"browser":   ActionSend,

	"enterplanmode": ActionRead,
	"exitplanmode":  ActionRead,
	"todoread":      ActionRead,
	"todowrite":     ActionRead,
	"skill":         ActionRead,
}

// heuristics are applied in order to normalized names with no fixed mapping;
// the first match wins. Ordering is significant: destructive verbs outrank
// write verbs, which outrank send and read.
var heuristics = []struct {
	re    *regexp.Regexp
	class ActionClass
}{
	{regexp.MustCompile(`\b(delete|remove|drop|destroy|kill|purge|reset|force)\b`), ActionExecute},
	{regexp.MustCompile(`\b(create|write|update|set|put|post|insert|modify|edit|patch|rename|move)\b`), ActionWrite},
	{regexp.MustCompile(`\b(send|email|notify|publish|push|deploy|upload)\b`), ActionSend},
	{regexp.MustCompile(`\b(read|get|list|search|find|query|fetch|show|describe|view|inspect|check|status|count|head|tail|cat|ls)\b`), ActionRead},
}

// Normalize lowercases a tool name and strips underscores, so "Web_Fetch",
// "WebFetch" and "webfetch" classify identically.
func Normalize(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "_", "")
}

// Classify maps a tool name to its action class. Unknown names that match no
// heuristic classify as execute: gating too hard beats gating too soft.
func Classify(name string) ActionClass {
	normalized := Normalize(name)
	if class, ok := knownTools[normalized]; ok {
		return class
	}
	if strings.HasPrefix(normalized, "todo") {
		return ActionRead
	}
	// Heuristics run on a word-split form: normalization strips underscores,
	// which would fuse words and defeat the \b anchors.
	words := wordSeparators.Replace(strings.ToLower(name))
	for _, h := range heuristics {
		if h.re.MatchString(words) {
			return h.class
		}
	}
	return ActionExecute
}

// wordSeparators turns common tool-name separators into spaces so heuristic
// word boundaries line up ("files.delete_all" -> "files delete all").
var wordSeparators = strings.NewReplacer("_", " ", "-", " ", ".", " ", ":", " ", "/", " ")

// RiskOf returns the fixed risk grade of an action class.
func RiskOf(class ActionClass) Risk {
	switch class {
	case ActionRead:
		return RiskLow
	case ActionWrite, ActionSend:
		return RiskMedium
	case ActionExecute:
		return RiskHigh
	default:
		return RiskHigh
	}
}

// McpServer extracts the server component from an MCP-namespaced tool name
// (mcp__<server>__<tool>). The second return is false for non-MCP names.
func McpServer(name string) (string, bool) {
	if !strings.HasPrefix(name, "mcp__") {
		return "", false
	}
	rest := name[len("mcp__"):]
	i := strings.Index(rest, "__")
	if i <= 0 {
		return "", false
	}
	return rest[:i], true
}
