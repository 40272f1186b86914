package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/latch-sh/latch/internal/adapter/outbound/memory"
	"github.com/latch-sh/latch/internal/domain/activity"
	"github.com/latch-sh/latch/internal/domain/approval"
	"github.com/latch-sh/latch/internal/domain/eval"
	"github.com/latch-sh/latch/internal/domain/feed"
	"github.com/latch-sh/latch/internal/domain/policy"
	"github.com/latch-sh/latch/internal/domain/session"
	"github.com/latch-sh/latch/internal/domain/settings"
)

// capturingFeed records published events for assertions.
type capturingFeed struct {
	mu     sync.Mutex
	events []feed.Event
}

func (f *capturingFeed) Publish(ev feed.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *capturingFeed) byType(eventType string) []feed.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []feed.Event
	for _, ev := range f.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	sup      *Supervisor
	store    *memory.ActivityStore
	settings *memory.SettingsStore
	feed     *capturingFeed
}

func newFixture(t *testing.T, timeout time.Duration, seedSettings map[string]string) *fixture {
	t.Helper()
	ctx := context.Background()

	policies := memory.NewPolicyStore()
	if err := policies.Save(ctx, &policy.Document{
		ID: "p1",
		Permissions: policy.Permissions{
			AllowBash:      true,
			AllowNetwork:   true,
			AllowFileWrite: true,
		},
	}); err != nil {
		t.Fatal(err)
	}

	f := &fixture{
		store:    memory.NewActivityStore(0),
		settings: memory.NewSettingsStore(seedSettings),
		feed:     &capturingFeed{},
	}
	coordinator := approval.NewCoordinator(timeout)
	f.sup = NewSupervisor(Deps{
		Sessions:  session.NewRegistry(),
		Policies:  policies,
		Evaluator: eval.New("/home/u", nil),
		Approvals: coordinator,
		Activity:  f.store,
		Settings:  f.settings,
		Feed:      f.feed,
	})
	t.Cleanup(f.sup.Stop)

	if err := f.sup.RegisterSession("s1", "claude", "p1", nil); err != nil {
		t.Fatal(err)
	}
	return f
}

func (f *fixture) eventCount(t *testing.T) int {
	t.Helper()
	events, err := f.store.Query(context.Background(), activity.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	return len(events)
}

func TestAuthorize_UnknownSession(t *testing.T) {
	f := newFixture(t, time.Minute, nil)
	res := f.sup.Authorize(context.Background(), "ghost", "Bash", map[string]any{"command": "ls"})
	if res.Allowed {
		t.Fatal("unknown session allowed")
	}
	if res.Reason != ReasonUnknownSession {
		t.Errorf("Reason = %q", res.Reason)
	}
	if f.eventCount(t) != 1 {
		t.Error("unknown-session denial must still be audited")
	}
}

func TestAuthorize_PolicyMissing(t *testing.T) {
	f := newFixture(t, time.Minute, nil)
	if err := f.sup.RegisterSession("s2", "claude", "nonexistent", nil); err != nil {
		t.Fatal(err)
	}
	res := f.sup.Authorize(context.Background(), "s2", "Read", nil)
	if res.Allowed || res.Reason != ReasonPolicyMissing {
		t.Errorf("result = %+v", res)
	}
}

func TestAuthorize_DirectAllowAndDeny(t *testing.T) {
	f := newFixture(t, time.Minute, nil)
	ctx := context.Background()

	res := f.sup.Authorize(ctx, "s1", "Read", map[string]any{"file_path": "/tmp/x"})
	if !res.Allowed || res.Prompted {
		t.Errorf("read = %+v, want plain allow", res)
	}

	res = f.sup.Authorize(ctx, "s1", "Bash", map[string]any{"command": "rm -rf /"})
	if res.Allowed {
		t.Errorf("rm -rf / = %+v, want deny", res)
	}

	if f.eventCount(t) != 2 {
		t.Errorf("events = %d, want 2 (one per call)", f.eventCount(t))
	}
}

func TestAuthorize_AutoAccept(t *testing.T) {
	// Unset auto-accept behaves like "true".
	f := newFixture(t, time.Minute, nil)
	res := f.sup.Authorize(context.Background(), "s1", "Bash", map[string]any{"command": "sudo apt install vim"})
	if !res.Allowed || res.Reason != ReasonAutoAccepted {
		t.Errorf("result = %+v, want auto-accepted allow", res)
	}

	f = newFixture(t, time.Minute, map[string]string{settings.KeyAutoAccept: "true"})
	res = f.sup.Authorize(context.Background(), "s1", "Bash", map[string]any{"command": "sudo ls"})
	if !res.Allowed || res.Reason != ReasonAutoAccepted {
		t.Errorf("explicit true = %+v, want auto-accepted allow", res)
	}
}

func TestAuthorize_UserDecision(t *testing.T) {
	f := newFixture(t, time.Minute, map[string]string{settings.KeyAutoAccept: "false"})

	type result struct{ res AuthorizeResult }
	done := make(chan result, 1)
	go func() {
		res := f.sup.Authorize(context.Background(), "s1", "Bash",
			map[string]any{"command": "sudo ls", "api_key": "sk-123"})
		done <- result{res}
	}()

	// Wait for the approval request to surface.
	var parked approval.Pending
	deadline := time.After(2 * time.Second)
	for parked.ID == "" {
		select {
		case <-deadline:
			t.Fatal("approval request never published")
		default:
		}
		if pending := f.sup.PendingApprovals(); len(pending) == 1 {
			parked = pending[0]
		} else {
			time.Sleep(5 * time.Millisecond)
		}
	}
	if parked.ToolInput["command"] != "sudo ls" {
		t.Errorf("pending input = %v", parked.ToolInput)
	}
	if parked.ToolInput["api_key"] != "***REDACTED***" {
		t.Error("credential-shaped input reached the pending approval unredacted")
	}
	approvalID := parked.ID

	if err := f.sup.ResolveApproval(approvalID, "deny"); err != nil {
		t.Fatalf("ResolveApproval: %v", err)
	}
	got := <-done
	if got.res.Allowed || got.res.Reason != ReasonUserDenied || !got.res.Prompted {
		t.Errorf("result = %+v, want prompted user denial", got.res)
	}

	if len(f.feed.byType(feed.TypeApprovalRequest)) != 1 {
		t.Error("approval-request event not published")
	}
	if len(f.feed.byType(feed.TypeApprovalResolved)) != 1 {
		t.Error("approval-resolved event not published")
	}
	if f.eventCount(t) != 1 {
		t.Errorf("events = %d, want exactly 1", f.eventCount(t))
	}
}

func TestAuthorize_ConfirmDestructive(t *testing.T) {
	f := newFixture(t, time.Minute, map[string]string{settings.KeyAutoAccept: "false"})
	pol := &policy.Document{
		ID: "pc",
		Permissions: policy.Permissions{
			AllowFileWrite:     true,
			ConfirmDestructive: true,
		},
	}
	if err := f.sup.Policies().Save(context.Background(), pol); err != nil {
		t.Fatal(err)
	}
	if err := f.sup.RegisterSession("s5", "claude", "pc", nil); err != nil {
		t.Fatal(err)
	}

	// Write-class calls need confirmation even without a prompt rule.
	done := make(chan AuthorizeResult, 1)
	go func() {
		done <- f.sup.Authorize(context.Background(), "s5", "Write",
			map[string]any{"file_path": "/tmp/x", "content": "hi"})
	}()
	deadline := time.After(2 * time.Second)
	for len(f.sup.PendingApprovals()) == 0 {
		select {
		case <-deadline:
			t.Fatal("destructive write never parked for confirmation")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	pending := f.sup.PendingApprovals()[0]
	if err := f.sup.ResolveApproval(pending.ID, "approve"); err != nil {
		t.Fatalf("ResolveApproval: %v", err)
	}
	res := <-done
	if !res.Allowed || !res.Prompted || res.Reason != ReasonUserApproved {
		t.Errorf("result = %+v, want prompted user approval", res)
	}

	// Read-class calls are not destructive and pass straight through.
	res = f.sup.Authorize(context.Background(), "s5", "Read", map[string]any{"file_path": "/tmp/x"})
	if !res.Allowed || res.Prompted {
		t.Errorf("read = %+v, want plain allow", res)
	}
}

func TestAuthorize_ConfirmDestructiveAutoAccepted(t *testing.T) {
	f := newFixture(t, time.Minute, nil)
	pol := &policy.Document{
		ID: "pc",
		Permissions: policy.Permissions{
			AllowFileWrite:     true,
			ConfirmDestructive: true,
		},
	}
	if err := f.sup.Policies().Save(context.Background(), pol); err != nil {
		t.Fatal(err)
	}
	if err := f.sup.RegisterSession("s5", "claude", "pc", nil); err != nil {
		t.Fatal(err)
	}
	res := f.sup.Authorize(context.Background(), "s5", "Write",
		map[string]any{"file_path": "/tmp/x", "content": "hi"})
	if !res.Allowed || res.Reason != ReasonAutoAccepted {
		t.Errorf("result = %+v, want auto-accepted allow", res)
	}
}

func TestAuthorize_TimeoutDeniesHighRisk(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond, map[string]string{settings.KeyAutoAccept: "false"})
	res := f.sup.Authorize(context.Background(), "s1", "Bash", map[string]any{"command": "sudo ls"})
	if res.Allowed || res.Reason != ReasonTimeoutDenied {
		t.Errorf("result = %+v, want timeout denial (execute is high risk)", res)
	}

	// A medium-risk prompt approves on timeout.
	pol := &policy.Document{
		ID: "p2",
		Permissions: policy.Permissions{
			AllowBash: true, AllowNetwork: true, AllowFileWrite: true,
		},
		Harnesses: map[string]policy.HarnessConfig{
			"claude": {ToolRules: []policy.ToolRule{{Pattern: "WebFetch", Decision: policy.DecisionPrompt}}},
		},
	}
	if err := f.sup.Policies().Save(context.Background(), pol); err != nil {
		t.Fatal(err)
	}
	if err := f.sup.RegisterSession("s3", "claude", "p2", nil); err != nil {
		t.Fatal(err)
	}
	res = f.sup.Authorize(context.Background(), "s3", "WebFetch", map[string]any{"url": "https://x"})
	if !res.Allowed || res.Reason != ReasonTimeoutApproved {
		t.Errorf("result = %+v, want timeout approval (send is medium risk)", res)
	}
}

func TestUnregisterSession_CancelsApprovals(t *testing.T) {
	f := newFixture(t, time.Minute, map[string]string{settings.KeyAutoAccept: "false"})

	done := make(chan AuthorizeResult, 1)
	go func() {
		done <- f.sup.Authorize(context.Background(), "s1", "Bash", map[string]any{"command": "sudo ls"})
	}()
	for len(f.sup.PendingApprovals()) == 0 {
		time.Sleep(5 * time.Millisecond)
	}

	f.sup.UnregisterSession("s1")
	res := <-done
	if res.Allowed || res.Reason != ReasonSessionEnded {
		t.Errorf("result = %+v, want session-ended denial", res)
	}
	if len(f.sup.PendingApprovals()) != 0 {
		t.Error("pending approvals survived unregister")
	}
}

func TestNotify_SyntheticEvent(t *testing.T) {
	f := newFixture(t, time.Minute, nil)
	if err := f.sup.Notify(context.Background(), "s1", "agent-turn-complete"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	events, _ := f.store.Query(context.Background(), activity.Filter{})
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.ToolName != "_codex:agent-turn-complete" || ev.Decision != activity.DecisionAllow {
		t.Errorf("event = %+v", ev)
	}

	if err := f.sup.Notify(context.Background(), "ghost", "x"); err == nil {
		t.Error("Notify for unknown session must fail")
	}
}

func TestAuthorize_SessionOverride(t *testing.T) {
	f := newFixture(t, time.Minute, nil)
	off := false
	if err := f.sup.RegisterSession("s4", "claude", "p1", &policy.Override{
		Permissions: &policy.PermissionsPatch{AllowBash: &off},
	}); err != nil {
		t.Fatal(err)
	}
	res := f.sup.Authorize(context.Background(), "s4", "Bash", map[string]any{"command": "ls"})
	if res.Allowed {
		t.Errorf("override should disable bash: %+v", res)
	}
}
