// Package feed is the in-process event channel between the core and the
// desktop UI shell. The UI is an external collaborator; the core only
// publishes.
package feed

import "sync"

// Event types consumed by the UI shell.
const (
	TypeApprovalRequest  = "latch:approval-request"
	TypeApprovalResolved = "latch:approval-resolved"
	TypeActivityEvent    = "latch:activity-event"
	TypeFeedUpdate       = "latch:feed-update"
)

// Event is one UI-bound message.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Publisher pushes events toward the UI. Publish must never block the
// decision path.
type Publisher interface {
	Publish(ev Event)
}

// Bus is a fan-out publisher with buffered per-subscriber channels.
// Subscribers that fall behind lose events rather than blocking decisions.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe func. The channel is buffered; unsubscribing closes it.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 128)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber, dropping on full buffers.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Compile-time interface verification.
var _ Publisher = (*Bus)(nil)
