package server

import (
	"sync"

	"moneymarket/core/events"
	"moneymarket/core/types"
)

const subscriberBuffer = 64

// Hub fans committed events out to stream subscribers. Slow subscribers
// lose events rather than stall the protocol.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan *types.Event
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan *types.Event)}
}

// Emit implements events.Emitter.
func (h *Hub) Emit(evt events.Event) {
	rendered := events.Render(evt)
	if rendered == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- rendered:
		default:
		}
	}
}

// Subscribe registers a subscriber. The returned cancel function closes the
// channel.
func (h *Hub) Subscribe() (<-chan *types.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan *types.Event, subscriberBuffer)
	h.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(ch)
			h.mu.Unlock()
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
