// Package approval coordinates human-in-the-loop confirmation of tool calls.
// A parked approval holds the harness's HTTP request open until the user
// resolves it, the timeout fires, the session ends, or the core shuts down.
package approval

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/latch-sh/latch/internal/domain/tool"
)

// DefaultTimeout bounds how long a request may stay parked.
const DefaultTimeout = 120 * time.Second

// ErrNotFound is returned when resolving an unknown or already-resolved
// approval id.
var ErrNotFound = errors.New("approval not found")

// Source identifies what completed a pending approval.
type Source string

const (
	SourceUser     Source = "user"
	SourceTimeout  Source = "timeout"
	SourceSession  Source = "session"
	SourceShutdown Source = "shutdown"
)

// Request describes the tool call awaiting confirmation. ToolInput must
// already be redacted by the caller; the coordinator stores it verbatim.
type Request struct {
	SessionID   string
	HarnessID   string
	ToolName    string
	ToolInput   map[string]any
	ActionClass tool.ActionClass
	Risk        tool.Risk
	Reason      string
}

// Pending is one parked approval as exposed to the UI.
type Pending struct {
	ID          string           `json:"id"`
	SessionID   string           `json:"sessionId"`
	HarnessID   string           `json:"harnessId"`
	ToolName    string           `json:"toolName"`
	ToolInput   map[string]any   `json:"toolInput,omitempty"`
	ActionClass tool.ActionClass `json:"actionClass"`
	Risk        tool.Risk        `json:"risk"`
	Reason      string           `json:"reason,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// Outcome is the terminal result of a parked approval.
type Outcome struct {
	Approved bool
	Source   Source
}

type pendingEntry struct {
	info  Pending
	risk  tool.Risk
	done  chan Outcome
	timer *time.Timer
}

// Coordinator parks approvals and guarantees each completes exactly once.
// The zero value is not usable; use NewCoordinator.
type Coordinator struct {
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]*pendingEntry
	stopped bool
}

// NewCoordinator creates a coordinator with the given park timeout.
// A non-positive timeout falls back to DefaultTimeout.
func NewCoordinator(timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Coordinator{
		timeout: timeout,
		pending: make(map[string]*pendingEntry),
	}
}

// Park registers a pending approval and returns its record plus a channel
// delivering exactly one outcome. The channel is buffered so completion
// never blocks on the waiter.
//
// After Stop, Park refuses new approvals by delivering an immediate deny.
func (c *Coordinator) Park(req Request) (Pending, <-chan Outcome) {
	entry := &pendingEntry{
		info: Pending{
			ID:          uuid.NewString(),
			SessionID:   req.SessionID,
			HarnessID:   req.HarnessID,
			ToolName:    req.ToolName,
			ToolInput:   req.ToolInput,
			ActionClass: req.ActionClass,
			Risk:        req.Risk,
			Reason:      req.Reason,
			CreatedAt:   time.Now().UTC(),
		},
		risk: req.Risk,
		done: make(chan Outcome, 1),
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		entry.done <- Outcome{Approved: false, Source: SourceShutdown}
		return entry.info, entry.done
	}
	c.pending[entry.info.ID] = entry
	entry.timer = time.AfterFunc(c.timeout, func() {
		// On timeout, a high-risk call is denied and anything lower is
		// approved: an unattended desktop should not silently run
		// dangerous commands, but routine prompts should not wedge the
		// agent forever.
		approved := req.Risk != tool.RiskHigh
		c.complete(entry.info.ID, approved, SourceTimeout)
	})
	c.mu.Unlock()

	return entry.info, entry.done
}

// Resolve completes one approval with the user's choice.
func (c *Coordinator) Resolve(id string, approved bool) error {
	if !c.complete(id, approved, SourceUser) {
		return ErrNotFound
	}
	return nil
}

// CancelSession denies every pending approval belonging to the session.
// Used when a session unregisters or its harness disconnects.
func (c *Coordinator) CancelSession(sessionID string) int {
	c.mu.Lock()
	var ids []string
	for id, e := range c.pending {
		if e.info.SessionID == sessionID {
			ids = append(ids, id)
		}
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.complete(id, false, SourceSession)
	}
	return len(ids)
}

// Stop denies all pending approvals and refuses new ones.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.complete(id, false, SourceShutdown)
	}
}

// List returns pending approvals, for the UI's queue view.
func (c *Coordinator) List() []Pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Pending, 0, len(c.pending))
	for _, e := range c.pending {
		out = append(out, e.info)
	}
	return out
}

// complete removes the entry and delivers the outcome. Removal under the
// lock is what makes completion exactly-once: whichever of the four sources
// (user, timeout, session cancel, shutdown) gets there first wins, and the
// rest find nothing.
func (c *Coordinator) complete(id string, approved bool, src Source) bool {
	c.mu.Lock()
	entry, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	entry.done <- Outcome{Approved: approved, Source: src}
	return true
}
