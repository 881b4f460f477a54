// Package notify implements spec.md §1's optional local-notification
// carve-out: a small bounded fan-out of hot-store status transitions to
// in-process subscribers (e.g. a future CLI watch command), with no
// transport of its own. Grounded on the subscribe/fan-out watcher pattern
// in klubiz-orca's in-memory store (other_examples/...-internal-store-memory.go.go).
package notify

import "sync"

// StatusChange describes one memory's status transition, published after
// the Writer commits the batch that caused it.
type StatusChange struct {
	ProjectID int64
	MemoryID  int64
	OldStatus string
	NewStatus string
	Reason    string
}

// Hub fans StatusChange events out to every active subscriber. A slow or
// absent subscriber never blocks the publisher: Publish drops the event for
// that subscriber instead of waiting, the same discipline the teacher's
// watcher uses for a subscriber that isn't consuming fast enough.
type Hub struct {
	mu   sync.Mutex
	subs map[int]chan StatusChange
	next int
}

// New builds an empty Hub.
func New() *Hub {
	return &Hub{subs: make(map[int]chan StatusChange)}
}

// Subscribe registers a new subscriber and returns its channel along with
// an unsubscribe function. The channel is buffered so a short burst of
// writes doesn't immediately drop events.
func (h *Hub) Subscribe() (<-chan StatusChange, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++

	ch := make(chan StatusChange, 64)
	h.subs[id] = ch

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
}

// Publish fans a StatusChange out to every current subscriber.
func (h *Hub) Publish(c StatusChange) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs {
		select {
		case ch <- c:
		default:
		}
	}
}
