package tool

import "testing"

func TestClassify_KnownTools(t *testing.T) {
	cases := []struct {
		name string
		want ActionClass
	}{
		{"Bash", ActionExecute},
		{"bash", ActionExecute},
		{"Task", ActionExecute},
		{"Write", ActionWrite},
		{"Edit", ActionWrite},
		{"NotebookEdit", ActionWrite},
		{"Read", ActionRead},
		{"Glob", ActionRead},
		{"Grep", ActionRead},
		{"WebFetch", ActionSend},
		{"WebSearch", ActionSend},
		{"TodoWrite", ActionRead},
		{"ExitPlanMode", ActionRead},
	}
	for _, tc := range cases {
		if got := Classify(tc.name); got != tc.want {
			t.Errorf("Classify(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestClassify_Heuristics(t *testing.T) {
	cases := []struct {
		name string
		want ActionClass
	}{
		{"mcp__github__delete_repo", ActionExecute},
		{"mcp__github__create_issue", ActionWrite},
		{"mcp__slack__send_message", ActionSend},
		{"mcp__github__list_issues", ActionRead},
		{"mcp__db__drop_table", ActionExecute},
		{"mcp__mail__publish_draft", ActionSend},
	}
	for _, tc := range cases {
		if got := Classify(tc.name); got != tc.want {
			t.Errorf("Classify(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestClassify_UnknownDefaultsToExecute(t *testing.T) {
	if got := Classify("mcp__weird__frobnicate"); got != ActionExecute {
		t.Errorf("Classify(unknown) = %q, want execute", got)
	}
}

func TestRiskOf(t *testing.T) {
	cases := []struct {
		class ActionClass
		want  Risk
	}{
		{ActionRead, RiskLow},
		{ActionWrite, RiskMedium},
		{ActionSend, RiskMedium},
		{ActionExecute, RiskHigh},
	}
	for _, tc := range cases {
		if got := RiskOf(tc.class); got != tc.want {
			t.Errorf("RiskOf(%q) = %q, want %q", tc.class, got, tc.want)
		}
	}
}

func TestMcpServer(t *testing.T) {
	server, ok := McpServer("mcp__github__create_issue")
	if !ok || server != "github" {
		t.Errorf("McpServer = (%q, %v), want (github, true)", server, ok)
	}
	if _, ok := McpServer("Bash"); ok {
		t.Error("McpServer(Bash) matched, want no match")
	}
	if _, ok := McpServer("mcp__"); ok {
		t.Error("McpServer(mcp__) matched, want no match")
	}
}

func TestNormalize(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Bash", "bash"},
		{"Notebook_Edit", "notebookedit"},
		{"WEB_FETCH", "webfetch"},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
