// Package service wires the latch domain together: sessions, policy
// resolution, rule evaluation, approvals, and the activity log.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/latch-sh/latch/internal/domain/activity"
	"github.com/latch-sh/latch/internal/domain/approval"
	"github.com/latch-sh/latch/internal/domain/eval"
	"github.com/latch-sh/latch/internal/domain/feed"
	"github.com/latch-sh/latch/internal/domain/policy"
	"github.com/latch-sh/latch/internal/domain/session"
	"github.com/latch-sh/latch/internal/domain/settings"
	"github.com/latch-sh/latch/internal/domain/tool"
)

// Deny reasons for requests that never reach the evaluator.
const (
	ReasonUnknownSession = "Unknown session — denied by default."
	ReasonPolicyMissing  = "Policy not found — denied by default."
)

// Outcome reasons for prompt-requiring calls.
const (
	ReasonAutoAccepted    = "Auto-accepted."
	ReasonUserApproved    = "User approved."
	ReasonUserDenied      = "User denied."
	ReasonTimeoutApproved = "Approved after timeout."
	ReasonTimeoutDenied   = "Denied after timeout."
	ReasonSessionEnded    = "Session ended."
	ReasonShutdown        = "Supervisor shutting down."
)

// AuthorizeResult is the terminal answer for one tool call.
type AuthorizeResult struct {
	Allowed bool
	Reason  string
	// Prompted reports whether the call went through user confirmation.
	Prompted bool
}

// Supervisor is the decision core. One instance serves all sessions.
type Supervisor struct {
	sessions  *session.Registry
	policies  policy.Store
	evaluator *eval.Evaluator
	approvals *approval.Coordinator
	activity  activity.Store
	settings  settings.Store
	feed      feed.Publisher
	logger    *slog.Logger
}

// Deps carries the supervisor's collaborators.
type Deps struct {
	Sessions  *session.Registry
	Policies  policy.Store
	Evaluator *eval.Evaluator
	Approvals *approval.Coordinator
	Activity  activity.Store
	Settings  settings.Store
	Feed      feed.Publisher
	Logger    *slog.Logger
}

// NewSupervisor assembles the decision core.
func NewSupervisor(d Deps) *Supervisor {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		sessions:  d.Sessions,
		policies:  d.Policies,
		evaluator: d.Evaluator,
		approvals: d.Approvals,
		activity:  d.Activity,
		settings:  d.Settings,
		feed:      d.Feed,
		logger:    logger,
	}
}

// RegisterSession binds a session id to a harness and policy. Re-registering
// an id replaces its binding.
func (s *Supervisor) RegisterSession(id, harnessID, policyID string, override *policy.Override) error {
	err := s.sessions.Register(session.Registered{
		SessionID: id,
		HarnessID: harnessID,
		PolicyID:  policyID,
		Override:  override,
	})
	if err != nil {
		return err
	}
	s.logger.Info("session registered",
		slog.String("session_id", id),
		slog.String("harness_id", harnessID),
		slog.String("policy_id", policyID))
	return nil
}

// UnregisterSession tears a session down, denying its pending approvals.
func (s *Supervisor) UnregisterSession(id string) {
	cancelled := s.approvals.CancelSession(id)
	s.sessions.Unregister(id)
	s.logger.Info("session unregistered",
		slog.String("session_id", id),
		slog.Int("approvals_cancelled", cancelled))
}

// Sessions exposes the registry for read access.
func (s *Supervisor) Sessions() *session.Registry { return s.sessions }

// Policies exposes the policy store.
func (s *Supervisor) Policies() policy.Store { return s.policies }

// PendingApprovals lists parked approvals for the UI.
func (s *Supervisor) PendingApprovals() []approval.Pending {
	return s.approvals.List()
}

// Authorize decides one tool call. It blocks while a prompt-requiring call
// waits for the user, so callers hold their HTTP response open through it.
// Exactly one activity event is recorded per call, whatever path the
// decision takes.
func (s *Supervisor) Authorize(ctx context.Context, sessionID, toolName string, toolInput map[string]any) AuthorizeResult {
	class := tool.Classify(toolName)
	risk := tool.RiskOf(class)

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return s.finish(ctx, sessionID, "", toolName, class, risk,
			AuthorizeResult{Allowed: false, Reason: ReasonUnknownSession})
	}

	effective, err := s.EffectivePolicy(ctx, sess)
	if err != nil {
		return s.finish(ctx, sessionID, sess.HarnessID, toolName, class, risk,
			AuthorizeResult{Allowed: false, Reason: ReasonPolicyMissing})
	}

	verdict := s.evaluator.Evaluate(eval.Input{
		ToolName:  toolName,
		ToolInput: toolInput,
		Policy:    effective,
		HarnessID: sess.HarnessID,
	})
	if verdict.Decision == policy.DecisionDeny {
		return s.finish(ctx, sessionID, sess.HarnessID, toolName, class, risk,
			AuthorizeResult{Allowed: false, Reason: verdict.Reason})
	}

	// Confirmation is required when a rule asked for a prompt, or when the
	// policy confirms destructive actions and this call can mutate state.
	needsConfirm := verdict.NeedsPrompt
	if effective.Permissions.ConfirmDestructive &&
		(class == tool.ActionExecute || class == tool.ActionWrite) {
		needsConfirm = true
	}

	if !needsConfirm || s.autoAccept(ctx) {
		reason := verdict.Reason
		if needsConfirm {
			reason = ReasonAutoAccepted
		}
		return s.finish(ctx, sessionID, sess.HarnessID, toolName, class, risk,
			AuthorizeResult{Allowed: true, Reason: reason})
	}

	result := s.awaitApproval(sessionID, sess.HarnessID, toolName, toolInput, class, risk, verdict.Reason)
	return s.finish(ctx, sessionID, sess.HarnessID, toolName, class, risk, result)
}

// ResolveApproval completes a parked approval. Action is "approve" or
// "deny".
func (s *Supervisor) ResolveApproval(approvalID, action string) error {
	switch action {
	case "approve":
		return s.approvals.Resolve(approvalID, true)
	case "deny":
		return s.approvals.Resolve(approvalID, false)
	default:
		return fmt.Errorf("unknown approval action %q", action)
	}
}

// Notify records a turn-complete observation from a harness as a synthetic
// activity event.
func (s *Supervisor) Notify(ctx context.Context, sessionID, notifyType string) error {
	if _, err := s.sessions.Get(sessionID); err != nil {
		return err
	}
	ev := activity.Event{
		SessionID:   sessionID,
		Timestamp:   time.Now().UTC(),
		ToolName:    "_codex:" + notifyType,
		ActionClass: tool.ActionExecute,
		Risk:        tool.RiskLow,
		Decision:    activity.DecisionAllow,
	}
	s.append(ctx, ev)
	return nil
}

// Feed forwards a harness progress message to the UI.
func (s *Supervisor) Feed(ctx context.Context, sessionID, message string) error {
	if _, err := s.sessions.Get(sessionID); err != nil {
		return err
	}
	s.publish(feed.Event{Type: feed.TypeFeedUpdate, Payload: map[string]any{
		"sessionId": sessionID,
		"message":   message,
	}})
	return nil
}

// Activity queries the decision log.
func (s *Supervisor) Activity(ctx context.Context, f activity.Filter) ([]activity.Event, error) {
	return s.activity.Query(ctx, f)
}

// ActivityStats aggregates the decision log.
func (s *Supervisor) ActivityStats(ctx context.Context, f activity.Filter) (*activity.Stats, error) {
	return s.activity.QueryStats(ctx, f)
}

// EffectivePolicy resolves the session's policy against its override. The
// result is a standalone copy; mutating it does not touch the store.
func (s *Supervisor) EffectivePolicy(ctx context.Context, sess session.Registered) (*policy.Document, error) {
	base, err := s.policies.Get(ctx, sess.PolicyID)
	if err != nil {
		return nil, err
	}
	return policy.Resolve(base, sess.Override), nil
}

// BaselinePolicy synthesises the strictest-baseline policy across the whole
// store, used as a fallback when a nominal policy cannot be resolved at
// enforcement-generation time.
func (s *Supervisor) BaselinePolicy(ctx context.Context, harnessID string) (*policy.Document, error) {
	all, err := s.policies.List(ctx)
	if err != nil {
		return nil, err
	}
	return policy.ComputeStrictestBaseline(all, harnessID), nil
}

// Stop denies all pending approvals. Idempotent.
func (s *Supervisor) Stop() {
	s.approvals.Stop()
}

// awaitApproval parks the call and blocks until one of the four completion
// sources resolves it.
func (s *Supervisor) awaitApproval(sessionID, harnessID, toolName string, toolInput map[string]any, class tool.ActionClass, risk tool.Risk, reason string) AuthorizeResult {
	// The UI sees the call's arguments, minus anything credential-shaped.
	pending, done := s.approvals.Park(approval.Request{
		SessionID:   sessionID,
		HarnessID:   harnessID,
		ToolName:    toolName,
		ToolInput:   activity.RedactSensitive(toolInput),
		ActionClass: class,
		Risk:        risk,
		Reason:      reason,
	})
	s.publish(feed.Event{Type: feed.TypeApprovalRequest, Payload: pending})
	s.logger.Info("approval requested",
		slog.String("approval_id", pending.ID),
		slog.String("session_id", sessionID),
		slog.String("tool", toolName),
		slog.String("risk", string(risk)))

	outcome := <-done
	s.publish(feed.Event{Type: feed.TypeApprovalResolved, Payload: map[string]any{
		"id":       pending.ID,
		"approved": outcome.Approved,
		"source":   outcome.Source,
	}})
	return AuthorizeResult{
		Allowed:  outcome.Approved,
		Reason:   outcomeReason(outcome),
		Prompted: true,
	}
}

func outcomeReason(o approval.Outcome) string {
	switch o.Source {
	case approval.SourceUser:
		if o.Approved {
			return ReasonUserApproved
		}
		return ReasonUserDenied
	case approval.SourceTimeout:
		if o.Approved {
			return ReasonTimeoutApproved
		}
		return ReasonTimeoutDenied
	case approval.SourceSession:
		return ReasonSessionEnded
	default:
		return ReasonShutdown
	}
}

// autoAccept reports whether prompts are currently bypassed. Unset is
// treated as on, so a fresh install does not stall the harness.
func (s *Supervisor) autoAccept(ctx context.Context) bool {
	v, err := s.settings.Get(ctx, settings.KeyAutoAccept)
	if errors.Is(err, settings.ErrNotFound) {
		return true
	}
	if err != nil {
		s.logger.Warn("settings read failed", slog.Any("error", err))
		return true
	}
	return v == "true"
}

// finish records the activity event, notifies the UI, and returns the
// result unchanged.
func (s *Supervisor) finish(ctx context.Context, sessionID, harnessID, toolName string, class tool.ActionClass, risk tool.Risk, res AuthorizeResult) AuthorizeResult {
	decision := activity.DecisionDeny
	if res.Allowed {
		decision = activity.DecisionAllow
	}
	ev := activity.Event{
		SessionID:   sessionID,
		Timestamp:   time.Now().UTC(),
		ToolName:    toolName,
		ActionClass: class,
		Risk:        risk,
		Decision:    decision,
		Reason:      res.Reason,
		HarnessID:   harnessID,
	}
	s.append(ctx, ev)
	return res
}

// append writes one activity event and publishes it to the UI. A store
// failure is logged and swallowed: the decision response must still go out.
func (s *Supervisor) append(ctx context.Context, ev activity.Event) {
	stored, err := s.activity.Append(ctx, ev)
	if err != nil {
		s.logger.Error("activity append failed",
			slog.String("tool", ev.ToolName),
			slog.Any("error", err))
		stored = ev
	}
	s.publish(feed.Event{Type: feed.TypeActivityEvent, Payload: stored})
	s.publish(feed.Event{Type: feed.TypeFeedUpdate, Payload: map[string]any{
		"sessionId": stored.SessionID,
	}})
}

func (s *Supervisor) publish(ev feed.Event) {
	if s.feed != nil {
		s.feed.Publish(ev)
	}
}
