// Package sqlite persists activity events in an embedded SQLite database,
// for installs that want the decision log to survive restarts.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/latch-sh/latch/internal/domain/activity"
	"github.com/latch-sh/latch/internal/domain/tool"
)

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

const schema = `
CREATE TABLE IF NOT EXISTS activity_events (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id   TEXT NOT NULL,
	timestamp    TEXT NOT NULL,
	tool_name    TEXT NOT NULL,
	action_class TEXT NOT NULL,
	risk         TEXT NOT NULL,
	decision     TEXT NOT NULL,
	reason       TEXT NOT NULL DEFAULT '',
	harness_id   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_activity_session ON activity_events(session_id);
CREATE INDEX IF NOT EXISTS idx_activity_timestamp ON activity_events(timestamp);
`

// ActivityStore is a SQLite-backed activity.Store.
type ActivityStore struct {
	db *sql.DB
}

// NewActivityStore opens (and if needed creates) the database at path and
// applies the schema. Use path ":memory:" for an ephemeral store.
func NewActivityStore(ctx context.Context, path string) (*ActivityStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	// SQLite permits one writer; serialise at the pool level rather than
	// surfacing SQLITE_BUSY to callers.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &ActivityStore{db: db}, nil
}

// Append inserts the event and returns it with the assigned rowid.
func (s *ActivityStore) Append(ctx context.Context, ev activity.Event) (activity.Event, error) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO activity_events
			(session_id, timestamp, tool_name, action_class, risk, decision, reason, harness_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.SessionID, ev.Timestamp.UTC().Format(time.RFC3339Nano),
		ev.ToolName, string(ev.ActionClass), string(ev.Risk),
		ev.Decision, ev.Reason, ev.HarnessID)
	if err != nil {
		return activity.Event{}, fmt.Errorf("inserting event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return activity.Event{}, err
	}
	ev.ID = id
	return ev, nil
}

// Query returns matching events newest first.
func (s *ActivityStore) Query(ctx context.Context, f activity.Filter) ([]activity.Event, error) {
	where, args := buildFilter(f)
	limit := f.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, timestamp, tool_name, action_class, risk, decision, reason, harness_id
		FROM activity_events`+where+` ORDER BY id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var out []activity.Event
	for rows.Next() {
		var ev activity.Event
		var ts, class, risk string
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ts, &ev.ToolName,
			&class, &risk, &ev.Decision, &ev.Reason, &ev.HarnessID); err != nil {
			return nil, err
		}
		ev.ActionClass = tool.ActionClass(class)
		ev.Risk = tool.Risk(risk)
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			ev.Timestamp = parsed
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// QueryStats aggregates matching events.
func (s *ActivityStore) QueryStats(ctx context.Context, f activity.Filter) (*activity.Stats, error) {
	where, args := buildFilter(f)
	stats := &activity.Stats{
		BySession: make(map[string]int64),
		ByTool:    make(map[string]int64),
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, tool_name, decision FROM activity_events`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("querying stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sessionID, toolName, decision string
		if err := rows.Scan(&sessionID, &toolName, &decision); err != nil {
			return nil, err
		}
		stats.Total++
		switch decision {
		case activity.DecisionAllow:
			stats.Allowed++
		case activity.DecisionDeny:
			stats.Denied++
		}
		stats.BySession[sessionID]++
		stats.ByTool[toolName]++
	}
	return stats, rows.Err()
}

// Close closes the database.
func (s *ActivityStore) Close() error { return s.db.Close() }

func buildFilter(f activity.Filter) (string, []any) {
	var clauses []string
	var args []any
	if !f.Since.IsZero() {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, f.Since.UTC().Format(time.RFC3339Nano))
	}
	if !f.Until.IsZero() {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, f.Until.UTC().Format(time.RFC3339Nano))
	}
	if f.SessionID != "" {
		clauses = append(clauses, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.Decision != "" {
		clauses = append(clauses, "decision = ?")
		args = append(args, f.Decision)
	}
	if f.HarnessID != "" {
		clauses = append(clauses, "harness_id = ?")
		args = append(args, f.HarnessID)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// Compile-time interface verification.
var _ activity.Store = (*ActivityStore)(nil)
