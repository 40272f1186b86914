package activity

import "context"

// Store persists activity events. Interface owned by the domain;
// implementations handle id assignment and durability.
//
// Append must assign Event.ID monotonically in arrival order. A failed
// append must not block the decision response path: callers log and move on
// (availability over durability).
type Store interface {
	// Append stores one event and returns it with its assigned id.
	Append(ctx context.Context, ev Event) (Event, error)

	// Query returns events matching the filter, newest first.
	Query(ctx context.Context, f Filter) ([]Event, error)

	// QueryStats aggregates events in the filter's time range.
	QueryStats(ctx context.Context, f Filter) (*Stats, error)

	// Close releases resources.
	Close() error
}
