package ipc

import "sync"

// Hub fans events out to watchers. A watcher that falls behind loses events
// rather than stalling the daemon.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan EventView]struct{}
	buffer int
	closed bool
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{subs: make(map[chan EventView]struct{}), buffer: buffer}
}

// Subscribe returns a channel of events and a function that releases it.
// The channel is closed on release or when the hub closes.
func (h *Hub) Subscribe() (<-chan EventView, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan EventView, h.buffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
}

// Publish reports how many watchers missed the event.
func (h *Hub) Publish(ev EventView) (dropped int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			dropped++
		}
	}
	return dropped
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}
