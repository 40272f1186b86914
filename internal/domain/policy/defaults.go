package policy

// DefaultCommandRules is the built-in rule set applied when a policy omits
// commandRules entirely. A policy with an explicit empty list opts out.
//
// Order matters: rules are scanned first to last and the first match wins.
var DefaultCommandRules = []CommandRule{
	{Pattern: `rm\s+-[^\s]*r[^\s]*\s+/`, Decision: DecisionDeny, Reason: "Recursive delete of root paths"},
	{Pattern: `\b(mkfs|dd\s+of=/dev)`, Decision: DecisionDeny, Reason: "Disk formatting"},
	{Pattern: `\bcat\s+.*(\.env|id_rsa|\.pem|\.key)\b`, Decision: DecisionDeny, Reason: "Secret exfiltration"},
	{Pattern: `(curl|wget)\s+.*\|\s*(sh|bash|zsh)`, Decision: DecisionDeny, Reason: "Pipe-to-shell"},
	{Pattern: `\b(shutdown|reboot|halt|poweroff)\b`, Decision: DecisionDeny, Reason: "System power"},
	{Pattern: `chmod\s+(777|\+s)\b`, Decision: DecisionDeny, Reason: "Broad permission change"},
	{Pattern: `\bsudo\b`, Decision: DecisionPrompt, Reason: "Privilege escalation"},
	{Pattern: `git\s+push\s+.*--force`, Decision: DecisionPrompt, Reason: "Destructive git"},
	{Pattern: `git\s+reset\s+--hard`, Decision: DecisionPrompt, Reason: "Destructive git"},
}

// EffectiveCommandRules resolves the absent-vs-empty distinction: nil means
// the defaults, anything else (including empty) is taken as-is.
func EffectiveCommandRules(rules []CommandRule) []CommandRule {
	if rules == nil {
		return DefaultCommandRules
	}
	return rules
}
