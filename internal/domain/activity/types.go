// Package activity contains the append-only decision log: one event per
// terminal authorization outcome.
package activity

import (
	"strings"
	"time"

	"github.com/latch-sh/latch/internal/domain/tool"
)

// Decision values recorded on events. Prompt never reaches the log: a
// prompted call terminates as either allow or deny.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// Event is one terminal authorization decision. Events are append-only and
// never mutated; ID is assigned monotonically by the store.
type Event struct {
	ID          int64            `json:"id"`
	SessionID   string           `json:"session_id"`
	Timestamp   time.Time        `json:"timestamp"`
	ToolName    string           `json:"tool_name"`
	ActionClass tool.ActionClass `json:"action_class"`
	Risk        tool.Risk        `json:"risk"`
	Decision    string           `json:"decision"`
	Reason      string           `json:"reason,omitempty"`
	HarnessID   string           `json:"harness_id"`
}

// Filter selects events for range queries (the radar consumer).
type Filter struct {
	// Since and Until bound the time range; zero values are open ends.
	Since time.Time
	Until time.Time
	// SessionID, Decision and HarnessID filter exactly when non-empty.
	SessionID string
	Decision  string
	HarnessID string
	// Limit caps the result size (default 100, max 1000).
	Limit int
}

// Stats aggregates events over a time range.
type Stats struct {
	Total     int64            `json:"total"`
	Allowed   int64            `json:"allowed"`
	Denied    int64            `json:"denied"`
	BySession map[string]int64 `json:"by_session"`
	ByTool    map[string]int64 `json:"by_tool"`
}

// sensitiveKeywords flags tool-input keys whose values must never reach the
// activity log. Comparison is case-insensitive substring.
var sensitiveKeywords = []string{
	"password", "secret", "token", "api_key", "apikey",
	"credential", "auth", "private_key", "privatekey",
}

// RedactSensitive returns a copy of args with sensitive values replaced by
// "***REDACTED***". The input map is not modified.
func RedactSensitive(args map[string]any) map[string]any {
	if len(args) == 0 {
		return args
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		if isSensitiveKey(k) {
			out[k] = "***REDACTED***"
		} else {
			out[k] = v
		}
	}
	return out
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
