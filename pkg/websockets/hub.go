package websockets

import (
	"context"
	"sync"
)

// Hub is the in-process Publisher: a per-session subscriber registry.
// Streams are restartable and cancellable; closing a subscription never
// affects the session it observes.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[int]chan Message
	next int
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int]chan Message)}
}

// Make sure we conform to the interface.
var _ Publisher = (*Hub)(nil)

// Subscribe opens a buffered stream of messages for one session. The
// returned cancel func tears the stream down and closes the channel;
// callers may resubscribe at any time.
func (h *Hub) Subscribe(sessionID string) (<-chan Message, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++
	ch := make(chan Message, 16)
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[int]chan Message)
	}
	h.subs[sessionID][id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sessionSubs, ok := h.subs[sessionID]; ok {
			if c, ok := sessionSubs[id]; ok {
				delete(sessionSubs, id)
				close(c)
			}
			if len(sessionSubs) == 0 {
				delete(h.subs, sessionID)
			}
		}
	}
	return ch, cancel
}

// Publish delivers the message to every live subscriber of the session.
// Slow subscribers drop messages rather than stall the publisher; the next
// tick carries a fresh full snapshot.
func (h *Hub) Publish(_ context.Context, sessionID string, message Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[sessionID] {
		select {
		case ch <- message:
		default:
		}
	}
	return nil
}
