package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/latch-sh/latch/internal/domain/activity"
	"github.com/latch-sh/latch/internal/domain/tool"
)

func newTestStore(t *testing.T) *ActivityStore {
	t.Helper()
	s, err := NewActivityStore(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("NewActivityStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestActivityStore_AppendAssignsIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Append(ctx, activity.Event{
		SessionID: "s1", ToolName: "Bash",
		ActionClass: tool.ActionExecute, Risk: tool.RiskHigh,
		Decision: activity.DecisionDeny, Reason: "Policy disallows shell execution.",
		HarnessID: "claude",
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	second, err := s.Append(ctx, activity.Event{
		SessionID: "s1", ToolName: "Read",
		ActionClass: tool.ActionRead, Risk: tool.RiskLow,
		Decision: activity.DecisionAllow, HarnessID: "claude",
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if first.ID == 0 || second.ID <= first.ID {
		t.Errorf("ids = %d, %d, want monotonic", first.ID, second.ID)
	}
	if first.Timestamp.IsZero() {
		t.Error("Append must default the timestamp")
	}
}

func TestActivityStore_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)

	if _, err := s.Append(ctx, activity.Event{
		SessionID: "s1", Timestamp: ts, ToolName: "Bash",
		ActionClass: tool.ActionExecute, Risk: tool.RiskHigh,
		Decision: activity.DecisionDeny, Reason: "denied", HarnessID: "claude",
	}); err != nil {
		t.Fatal(err)
	}

	got, err := s.Query(ctx, activity.Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	ev := got[0]
	if ev.ToolName != "Bash" || ev.ActionClass != tool.ActionExecute ||
		ev.Risk != tool.RiskHigh || ev.Reason != "denied" || ev.HarnessID != "claude" {
		t.Errorf("event = %+v", ev)
	}
	if !ev.Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want %v", ev.Timestamp, ts)
	}
}

func TestActivityStore_FiltersAndOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, ev := range []activity.Event{
		{SessionID: "s1", ToolName: "Bash", Decision: activity.DecisionAllow, Timestamp: now.Add(-2 * time.Hour)},
		{SessionID: "s2", ToolName: "Write", Decision: activity.DecisionDeny, Timestamp: now.Add(-time.Hour)},
		{SessionID: "s1", ToolName: "Read", Decision: activity.DecisionAllow, Timestamp: now},
	} {
		ev.ActionClass = tool.ActionRead
		ev.Risk = tool.RiskLow
		if _, err := s.Append(ctx, ev); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	got, err := s.Query(ctx, activity.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0].ToolName != "Read" {
		t.Errorf("order: %v", got)
	}

	got, _ = s.Query(ctx, activity.Filter{SessionID: "s1"})
	if len(got) != 2 {
		t.Errorf("session filter: %d events", len(got))
	}

	got, _ = s.Query(ctx, activity.Filter{Decision: activity.DecisionDeny})
	if len(got) != 1 || got[0].SessionID != "s2" {
		t.Errorf("decision filter: %v", got)
	}

	got, _ = s.Query(ctx, activity.Filter{Since: now.Add(-90 * time.Minute)})
	if len(got) != 2 {
		t.Errorf("since filter: %d events", len(got))
	}

	stats, err := s.QueryStats(ctx, activity.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 3 || stats.Allowed != 2 || stats.Denied != 1 {
		t.Errorf("stats = %+v", stats)
	}
}
